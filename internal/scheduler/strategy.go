// Package scheduler selects and runs execution strategies for a task
// batch: parallel-group wave planning, bounded-concurrency dispatch,
// a sequential fallback, per-task lifecycle, fail-fast and dry-run
// modes, and lifecycle-hook notifications.
package scheduler

import (
	"context"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/task"
)

// StrategyName identifies a registered strategy.
type StrategyName string

const (
	Sequential      StrategyName = "sequential"
	ParallelWorktree StrategyName = "parallel-worktree"
	PipelineAware   StrategyName = "pipeline-aware"
)

// Strategy is one way of executing a task batch. Implementations
// register in a Registry keyed by name.
type Strategy interface {
	Execute(ctx context.Context, tasks []task.Task, ectx *task.ExecutionContext) ([]task.TaskExecutionResult, error)
	CanHandle(tasks []task.Task, opts task.ExecutionOptions) bool
	EstimateDuration(tasks []task.Task) time.Duration
}

// Registry maps StrategyName to Strategy. It is an ordinary value a
// caller owns and passes around, not a package-global singleton.
type Registry struct {
	strategies map[StrategyName]Strategy
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[StrategyName]Strategy)}
}

// Register adds or replaces the strategy for name.
func (r *Registry) Register(name StrategyName, s Strategy) {
	r.strategies[name] = s
}

// Get returns the strategy registered for name, if any.
func (r *Registry) Get(name StrategyName) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Selection records which strategy was chosen and why, so the
// decision can be logged with its rationale.
type Selection struct {
	Strategy  StrategyName
	Rationale string
}

// SelectStrategy picks a strategy from the batch's characteristics:
// parallelism requires both the parallel and branch-per-task options;
// an explicit parallelGroup or multiple independent tasks favors
// worktree parallelism; dependency chains and single tasks fall back
// to sequential.
func SelectStrategy(tasks []task.Task, opts task.ExecutionOptions) Selection {
	if !opts.Parallel {
		return Selection{Sequential, "parallel=false"}
	}
	if !opts.BranchPerTask {
		return Selection{Sequential, "branchPerTask=false"}
	}
	if anyHasParallelGroup(tasks) {
		return Selection{ParallelWorktree, "at least one task has an explicit parallelGroup"}
	}
	if countNoDependencies(tasks) > 1 {
		return Selection{ParallelWorktree, "more than one task has no dependencies"}
	}
	if allHaveDependencies(tasks) {
		return Selection{Sequential, "every task has dependencies"}
	}
	if len(tasks) == 1 {
		return Selection{Sequential, "exactly one task"}
	}
	return Selection{ParallelWorktree, "default: multiple independent-enough tasks"}
}

func anyHasParallelGroup(tasks []task.Task) bool {
	for _, t := range tasks {
		if t.Metadata.ParallelGroup != nil {
			return true
		}
	}
	return false
}

func countNoDependencies(tasks []task.Task) int {
	n := 0
	for _, t := range tasks {
		if len(t.Metadata.Dependencies) == 0 {
			n++
		}
	}
	return n
}

func allHaveDependencies(tasks []task.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if len(t.Metadata.Dependencies) == 0 {
			return false
		}
	}
	return true
}

// GroupTasksByWave partitions tasks by metadata.parallelGroup
// (default 0) and returns the group numbers in ascending order.
func GroupTasksByWave(tasks []task.Task) []int {
	seen := make(map[int]bool)
	var groups []int
	for _, t := range tasks {
		g := t.Metadata.Group()
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j-1] > groups[j]; j-- {
			groups[j-1], groups[j] = groups[j], groups[j-1]
		}
	}
	return groups
}

func tasksInGroup(tasks []task.Task, group int) []task.Task {
	var out []task.Task
	for _, t := range tasks {
		if t.Metadata.Group() == group {
			out = append(out, t)
		}
	}
	return out
}
