package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/agent"
	"github.com/eizorerad/milhouse-sub002/internal/events"
	"github.com/eizorerad/milhouse-sub002/internal/merge"
	"github.com/eizorerad/milhouse-sub002/internal/orcherr"
	"github.com/eizorerad/milhouse-sub002/internal/orchlog"
	"github.com/eizorerad/milhouse-sub002/internal/task"
	"github.com/eizorerad/milhouse-sub002/internal/worktree"
)

// WorktreeService is the slice of internal/worktree.Service the
// parallel strategy needs: isolated-checkout creation before the agent
// runs, removal after the group's merge pass.
type WorktreeService interface {
	CreateWorktree(ctx context.Context, opts worktree.CreateWorktreeOptions) (worktree.Record, error)
	CleanupWorktree(ctx context.Context, path string, force bool) (worktree.CleanupResult, error)
}

// MergeService is the slice of internal/merge.Pipeline the parallel
// strategy needs for its per-group integration pass.
type MergeService interface {
	MergeAgentBranch(ctx context.Context, source, target, message string, allowFastForward bool) (merge.Result, error)
	AbortMerge(ctx context.Context)
}

// BranchDeleter deletes a local branch after its merge succeeded.
type BranchDeleter interface {
	DeleteLocalBranch(ctx context.Context, name string, force bool) error
}

// ParallelWorktreeStrategy executes tasks grouped into parallelGroup
// waves: groups run sequentially, tasks within a group run
// concurrently up to MaxWorkers, each in its own isolated worktree.
type ParallelWorktreeStrategy struct {
	agent     agent.Runner
	worktrees WorktreeService
	branches  BranchDeleter
	merges    MergeService
	bus       *events.Bus
	log       *orchlog.Logger
}

// NewParallelWorktree wires the parallel strategy to its collaborators.
// bus may be nil.
func NewParallelWorktree(runner agent.Runner, wt WorktreeService, br BranchDeleter, mg MergeService, bus *events.Bus, log *orchlog.Logger) *ParallelWorktreeStrategy {
	if log == nil {
		log = orchlog.New("scheduler", nil)
	}
	return &ParallelWorktreeStrategy{agent: runner, worktrees: wt, branches: br, merges: mg, bus: bus, log: log}
}

// CanHandle requires both parallel execution and per-task branching;
// without branch isolation concurrent agents would trample one working
// tree.
func (p *ParallelWorktreeStrategy) CanHandle(tasks []task.Task, opts task.ExecutionOptions) bool {
	return opts.Parallel && opts.BranchPerTask
}

// EstimateDuration assumes the default worker pool packs each wave.
func (p *ParallelWorktreeStrategy) EstimateDuration(tasks []task.Task) time.Duration {
	workers := 4
	waves := (len(tasks) + workers - 1) / workers
	return time.Duration(waves) * nominalTaskDuration
}

// taskOutcome pairs a task's result with the worktree it ran in, so the
// group-cleanup step can find every checkout created in step (a).
type taskOutcome struct {
	task   task.Task
	result task.TaskExecutionResult
	record worktree.Record
	hasWT  bool
}

// Execute runs each parallelGroup wave in ascending order. Within a
// wave the ordering contract is:
// (a) run tasks concurrently and collect results,
// (b) if !skipMerge, merge each successful branch into the base branch,
// (c) remove every worktree collected in (a),
// (d) if failFast and the wave had a failure, stop.
func (p *ParallelWorktreeStrategy) Execute(ctx context.Context, tasks []task.Task, ectx *task.ExecutionContext) ([]task.TaskExecutionResult, error) {
	groups := GroupTasksByWave(tasks)
	var results []task.TaskExecutionResult

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		wave := tasksInGroup(tasks, group)
		invokeHook(p.log, "onGroupStart", func() {
			if ectx.Hooks.OnGroupStart != nil {
				ectx.Hooks.OnGroupStart(group, wave)
			}
		})

		outcomes := p.runWave(ctx, wave, ectx)

		if !ectx.Options.SkipMerge && !ectx.Options.DryRun {
			p.mergeWave(ctx, outcomes, ectx)
		}

		p.cleanupWave(ctx, outcomes, ectx)

		groupFailed := false
		var groupResults []task.TaskExecutionResult
		for _, o := range outcomes {
			results = append(results, o.result)
			groupResults = append(groupResults, o.result)
			if !o.result.Success {
				groupFailed = true
			}
		}

		invokeHook(p.log, "onGroupComplete", func() {
			if ectx.Hooks.OnGroupComplete != nil {
				ectx.Hooks.OnGroupComplete(group, groupResults)
			}
		})

		if ectx.Options.FailFast && groupFailed {
			p.log.Info("failFast: stopping before group after %d", group)
			break
		}
	}
	return results, nil
}

// runWave dispatches a wave's tasks through a counting semaphore of
// MaxWorkers permits and waits for every task to terminate before
// returning.
func (p *ParallelWorktreeStrategy) runWave(ctx context.Context, wave []task.Task, ectx *task.ExecutionContext) []*taskOutcome {
	workers := ectx.Options.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	permits := make(chan struct{}, workers)

	outcomes := make([]*taskOutcome, len(wave))
	var wg sync.WaitGroup
	for i, t := range wave {
		// Cancellation: no new tasks start once the run context is done;
		// in-flight tasks see ctx through their agent invocation.
		if ctx.Err() != nil {
			outcomes[i] = &taskOutcome{task: t, result: task.TaskExecutionResult{TaskID: t.ID, Error: ctx.Err()}}
			continue
		}
		permits <- struct{}{}
		wg.Add(1)
		go func(i int, t task.Task) {
			defer wg.Done()
			defer func() { <-permits }()
			outcomes[i] = p.executeOne(ctx, t, ectx)
		}(i, t)
	}
	wg.Wait()
	return outcomes
}

func (p *ParallelWorktreeStrategy) executeOne(ctx context.Context, t task.Task, ectx *task.ExecutionContext) *taskOutcome {
	out := &taskOutcome{task: t}

	publish(p.bus, events.TopicTaskStart, t.ID, map[string]any{"title": t.Title, "group": t.Metadata.Group()})
	invokeHook(p.log, "onTaskStart", func() {
		if ectx.Hooks.OnTaskStart != nil {
			ectx.Hooks.OnTaskStart(t)
		}
	})

	if ectx.Options.DryRun {
		out.result = task.TaskExecutionResult{TaskID: t.ID, Success: true}
		publish(p.bus, events.TopicTaskComplete, t.ID, map[string]any{"success": true, "dryRun": true})
		invokeHook(p.log, "onTaskComplete", func() {
			if ectx.Hooks.OnTaskComplete != nil {
				ectx.Hooks.OnTaskComplete(t, out.result)
			}
		})
		return out
	}

	rec, err := p.worktrees.CreateWorktree(ctx, worktree.CreateWorktreeOptions{
		TaskTitle:  t.Title,
		BaseBranch: ectx.Options.BaseBranch,
		RunID:      ectx.RunID,
	})
	if err != nil {
		out.result = p.fail(t, ectx, 0, fmt.Errorf("creating worktree: %w", err))
		return out
	}
	rec.TaskID = t.ID
	out.record = rec
	out.hasWT = true

	invokeHook(p.log, "onWorktreeCreate", func() {
		if ectx.Hooks.OnWorktreeCreate != nil {
			ectx.Hooks.OnWorktreeCreate(t, rec.Path, rec.Branch)
		}
	})

	prompt := agent.BuildPrompt(t, ectx.Options)

	taskCtx := ctx
	if ectx.Options.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, ectx.Options.TaskTimeout)
		defer cancel()
	}

	publish(p.bus, events.TopicEngineStart, t.ID, map[string]any{"engine": ectx.Engine, "workDir": rec.Path})
	started := time.Now()
	agentRes, err := p.agent.Execute(taskCtx, prompt, rec.Path, t.ID)
	elapsed := time.Since(started)

	if err != nil {
		publish(p.bus, events.TopicEngineError, t.ID, map[string]any{"error": err.Error()})
		out.result = p.fail(t, ectx, elapsed, err)
		out.result.Branch = rec.Branch
		out.result.Worktree = rec.Path
		return out
	}
	publish(p.bus, events.TopicEngineComplete, t.ID, map[string]any{"exitCode": agentRes.ExitCode})

	out.result = task.TaskExecutionResult{
		TaskID:   t.ID,
		Success:  agentRes.Success,
		Branch:   rec.Branch,
		Worktree: rec.Path,
		Duration: elapsed,
	}
	if !agentRes.Success {
		out.result.Error = agentRes.Error
		if out.result.Error == nil {
			out.result.Error = fmt.Errorf("agent exited %d", agentRes.ExitCode)
		}
		publish(p.bus, events.TopicTaskError, t.ID, map[string]any{"error": out.result.Error.Error()})
		invokeHook(p.log, "onTaskError", func() {
			if ectx.Hooks.OnTaskError != nil {
				ectx.Hooks.OnTaskError(t, out.result.Error)
			}
		})
		return out
	}

	publish(p.bus, events.TopicTaskComplete, t.ID, map[string]any{"success": true, "branch": rec.Branch})
	invokeHook(p.log, "onTaskComplete", func() {
		if ectx.Hooks.OnTaskComplete != nil {
			ectx.Hooks.OnTaskComplete(t, out.result)
		}
	})
	return out
}

func (p *ParallelWorktreeStrategy) fail(t task.Task, ectx *task.ExecutionContext, elapsed time.Duration, err error) task.TaskExecutionResult {
	res := task.TaskExecutionResult{TaskID: t.ID, Duration: elapsed, Error: err}
	publish(p.bus, events.TopicTaskError, t.ID, map[string]any{"error": err.Error()})
	invokeHook(p.log, "onTaskError", func() {
		if ectx.Hooks.OnTaskError != nil {
			ectx.Hooks.OnTaskError(t, err)
		}
	})
	return res
}

// mergeWave is step (b): integrate each successful branch into the base
// branch, delete a branch locally only after its merge succeeded, and
// abort on conflict. Merges happen strictly before any worktree
// removal: while a branch is checked out in a worktree it is locked,
// and merges that would touch it fail.
func (p *ParallelWorktreeStrategy) mergeWave(ctx context.Context, outcomes []*taskOutcome, ectx *task.ExecutionContext) {
	base := ectx.Options.BaseBranch
	for _, o := range outcomes {
		if o == nil || !o.result.Success || o.result.Branch == "" {
			continue
		}
		branch := o.result.Branch

		invokeHook(p.log, "onMergeStart", func() {
			if ectx.Hooks.OnMergeStart != nil {
				ectx.Hooks.OnMergeStart(branch, base)
			}
		})

		res, err := p.merges.MergeAgentBranch(ctx, branch, base, "", false)
		switch {
		case err != nil:
			o.result.Success = false
			o.result.Error = fmt.Errorf("merging %s into %s: %w", branch, base, err)
			p.log.Error("merge of %s failed: %v", branch, err)
		case res.HasConflicts:
			p.merges.AbortMerge(ctx)
			o.result.Success = false
			o.result.Error = orcherr.New(orcherr.MergeConflict, "mergeWave",
				fmt.Errorf("merge of %s into %s conflicted: %v", branch, base, res.ConflictedFiles))
			invokeHook(p.log, "onMergeConflict", func() {
				if ectx.Hooks.OnMergeConflict != nil {
					ectx.Hooks.OnMergeConflict(branch, base, res.ConflictedFiles)
				}
			})
		default:
			invokeHook(p.log, "onMergeComplete", func() {
				if ectx.Hooks.OnMergeComplete != nil {
					ectx.Hooks.OnMergeComplete(branch, base, res.Commit)
				}
			})
			// Only merged branches are ever deleted locally; nothing is
			// force-deleted.
			if derr := p.branches.DeleteLocalBranch(ctx, branch, false); derr != nil {
				p.log.Warn("deleting merged branch %s: %v", branch, derr)
			}
		}
	}
}

// cleanupWave is step (c): remove every worktree collected in step (a).
// A worktree that still has uncommitted changes is left in place with a
// warning, never force-removed.
func (p *ParallelWorktreeStrategy) cleanupWave(ctx context.Context, outcomes []*taskOutcome, ectx *task.ExecutionContext) {
	for _, o := range outcomes {
		if o == nil || !o.hasWT {
			continue
		}
		res, err := p.worktrees.CleanupWorktree(ctx, o.record.Path, false)
		if err != nil {
			p.log.Warn("cleanup of worktree %s failed: %v", o.record.Path, err)
			continue
		}
		if res.LeftInPlace {
			p.log.Warn("worktree %s left in place: %s", o.record.Path, res.Reason)
		}
		invokeHook(p.log, "onWorktreeCleanup", func() {
			if ectx.Hooks.OnWorktreeCleanup != nil {
				ectx.Hooks.OnWorktreeCleanup(o.task, o.record.Path, res.LeftInPlace, res.Reason)
			}
		})
	}
}
