package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/agent"
	"github.com/eizorerad/milhouse-sub002/internal/events"
	"github.com/eizorerad/milhouse-sub002/internal/merge"
	"github.com/eizorerad/milhouse-sub002/internal/orchlog"
	"github.com/eizorerad/milhouse-sub002/internal/task"
	"github.com/eizorerad/milhouse-sub002/internal/worktree"
)

// Orchestrator is the run-level front door: it selects a strategy for
// a batch, emits the pipeline lifecycle events, and folds per-task
// results into the aggregate RunResult.
type Orchestrator struct {
	registry *Registry
	bus      *events.Bus
	log      *orchlog.Logger
}

// NewOrchestrator returns an Orchestrator dispatching into registry.
// bus may be nil.
func NewOrchestrator(registry *Registry, bus *events.Bus, log *orchlog.Logger) *Orchestrator {
	if log == nil {
		log = orchlog.New("scheduler", nil)
	}
	return &Orchestrator{registry: registry, bus: bus, log: log}
}

// NewDefaultRegistry builds a registry holding the sequential and
// parallel-worktree strategies wired against a repository at workDir.
func NewDefaultRegistry(workDir string, runner agent.Runner, bus *events.Bus, log *orchlog.Logger) *Registry {
	wt := worktree.NewService(workDir, bus, log)
	br := worktree.NewBranchService(workDir, bus, log)
	mg := merge.NewPipeline(workDir, bus, log)

	reg := NewRegistry()
	reg.Register(Sequential, NewSequential(runner, bus, log))
	reg.Register(ParallelWorktree, NewParallelWorktree(runner, wt, br, mg, bus, log))
	return reg
}

// Run executes a batch under ectx and returns the aggregate result.
// The strategy decision is logged with its rationale.
func (o *Orchestrator) Run(ctx context.Context, tasks []task.Task, ectx *task.ExecutionContext) (task.RunResult, error) {
	sel := SelectStrategy(tasks, ectx.Options)
	o.log.Info("run %s: strategy=%s (%s), %d task(s)", ectx.RunID, sel.Strategy, sel.Rationale, len(tasks))

	strategy, ok := o.registry.Get(sel.Strategy)
	if !ok {
		return task.RunResult{RunID: ectx.RunID}, fmt.Errorf("no strategy registered for %q", sel.Strategy)
	}

	publish(o.bus, events.TopicPipelineStart, "", map[string]any{
		"runId": ectx.RunID, "strategy": string(sel.Strategy), "tasks": len(tasks),
	})
	invokeHook(o.log, "onExecutionStart", func() {
		if ectx.Hooks.OnExecutionStart != nil {
			ectx.Hooks.OnExecutionStart(ectx, tasks)
		}
	})

	started := time.Now()
	results, err := strategy.Execute(ctx, tasks, ectx)
	summary := task.Summarize(ectx.RunID, results, time.Since(started))

	invokeHook(o.log, "onExecutionComplete", func() {
		if ectx.Hooks.OnExecutionComplete != nil {
			ectx.Hooks.OnExecutionComplete(summary)
		}
	})
	publish(o.bus, events.TopicPipelineComplete, "", map[string]any{
		"runId": ectx.RunID, "completed": summary.TasksCompleted,
		"failed": summary.TasksFailed, "allSucceeded": summary.AllSucceeded,
	})

	return summary, err
}
