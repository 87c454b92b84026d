package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/agent"
	"github.com/eizorerad/milhouse-sub002/internal/events"
	"github.com/eizorerad/milhouse-sub002/internal/orchlog"
	"github.com/eizorerad/milhouse-sub002/internal/task"
)

// nominalTaskDuration is the per-task planning estimate used by
// EstimateDuration. Agent runs are long (minutes to tens of minutes);
// ten minutes is the planning midpoint.
const nominalTaskDuration = 10 * time.Minute

// SequentialStrategy executes tasks in input order, one at a time, in
// the operator's main working tree.
type SequentialStrategy struct {
	agent agent.Runner
	bus   *events.Bus
	log   *orchlog.Logger
}

// NewSequential returns a sequential strategy. bus may be nil.
func NewSequential(runner agent.Runner, bus *events.Bus, log *orchlog.Logger) *SequentialStrategy {
	if log == nil {
		log = orchlog.New("scheduler", nil)
	}
	return &SequentialStrategy{agent: runner, bus: bus, log: log}
}

// CanHandle reports whether this strategy can execute the batch. The
// sequential strategy handles anything.
func (s *SequentialStrategy) CanHandle(tasks []task.Task, opts task.ExecutionOptions) bool {
	return true
}

// EstimateDuration is a planning estimate, not a bound.
func (s *SequentialStrategy) EstimateDuration(tasks []task.Task) time.Duration {
	return time.Duration(len(tasks)) * nominalTaskDuration
}

// Execute runs each task to completion before starting the next. On
// failure with FailFast set, remaining tasks are not started.
func (s *SequentialStrategy) Execute(ctx context.Context, tasks []task.Task, ectx *task.ExecutionContext) ([]task.TaskExecutionResult, error) {
	var results []task.TaskExecutionResult

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := s.executeOne(ctx, t, ectx)
		results = append(results, res)

		if ectx.Options.FailFast && !res.Success {
			s.log.Info("failFast: stopping after failed task %s", t.ID)
			break
		}
	}
	return results, nil
}

func (s *SequentialStrategy) executeOne(ctx context.Context, t task.Task, ectx *task.ExecutionContext) task.TaskExecutionResult {
	publish(s.bus, events.TopicTaskStart, t.ID, map[string]any{"title": t.Title})
	invokeHook(s.log, "onTaskStart", func() {
		if ectx.Hooks.OnTaskStart != nil {
			ectx.Hooks.OnTaskStart(t)
		}
	})

	if ectx.Options.DryRun {
		res := task.TaskExecutionResult{TaskID: t.ID, Success: true}
		publish(s.bus, events.TopicTaskComplete, t.ID, map[string]any{"success": true, "dryRun": true})
		invokeHook(s.log, "onTaskComplete", func() {
			if ectx.Hooks.OnTaskComplete != nil {
				ectx.Hooks.OnTaskComplete(t, res)
			}
		})
		return res
	}

	prompt := agent.BuildPrompt(t, ectx.Options)

	taskCtx := ctx
	if ectx.Options.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, ectx.Options.TaskTimeout)
		defer cancel()
	}

	publish(s.bus, events.TopicEngineStart, t.ID, map[string]any{"engine": ectx.Engine})
	started := time.Now()
	agentRes, err := s.agent.Execute(taskCtx, prompt, ectx.WorkDir, t.ID)
	elapsed := time.Since(started)

	if err != nil {
		publish(s.bus, events.TopicEngineError, t.ID, map[string]any{"error": err.Error()})
		return s.recordError(t, ectx, elapsed, err)
	}
	publish(s.bus, events.TopicEngineComplete, t.ID, map[string]any{"exitCode": agentRes.ExitCode})

	res := task.TaskExecutionResult{
		TaskID:   t.ID,
		Success:  agentRes.Success,
		Duration: elapsed,
	}
	if !agentRes.Success {
		res.Error = agentRes.Error
		if res.Error == nil {
			res.Error = fmt.Errorf("agent exited %d", agentRes.ExitCode)
		}
		publish(s.bus, events.TopicTaskError, t.ID, map[string]any{"error": res.Error.Error()})
		invokeHook(s.log, "onTaskError", func() {
			if ectx.Hooks.OnTaskError != nil {
				ectx.Hooks.OnTaskError(t, res.Error)
			}
		})
		return res
	}

	publish(s.bus, events.TopicTaskComplete, t.ID, map[string]any{"success": true})
	invokeHook(s.log, "onTaskComplete", func() {
		if ectx.Hooks.OnTaskComplete != nil {
			ectx.Hooks.OnTaskComplete(t, res)
		}
	})
	return res
}

func (s *SequentialStrategy) recordError(t task.Task, ectx *task.ExecutionContext, elapsed time.Duration, err error) task.TaskExecutionResult {
	res := task.TaskExecutionResult{TaskID: t.ID, Duration: elapsed, Error: err}
	publish(s.bus, events.TopicTaskError, t.ID, map[string]any{"error": err.Error()})
	invokeHook(s.log, "onTaskError", func() {
		if ectx.Hooks.OnTaskError != nil {
			ectx.Hooks.OnTaskError(t, err)
		}
	})
	return res
}

func publish(bus *events.Bus, topic events.Topic, taskID string, payload map[string]any) {
	if bus == nil {
		return
	}
	bus.Publish(topic, taskID, payload)
}

// invokeHook awaits a lifecycle hook, recovering a panic so
// subscriber misbehavior never fails the run.
func invokeHook(log *orchlog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("hook %s panicked: %v", name, r)
		}
	}()
	fn()
}
