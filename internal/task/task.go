// Package task holds the orchestrator's data model: Task,
// ExecutionOptions, ExecutionContext, TaskExecutionResult, and the
// aggregate RunResult. A Task is immutable input created upstream;
// the orchestrator never mutates one.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusBlocked    Status = "blocked"
)

// Priority is a task's priority level.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Metadata carries the scheduling-relevant fields attached to a task:
// its source, dependency set, labels, and parallel-group wave number.
type Metadata struct {
	Source       string
	Dependencies map[string]struct{} // set of taskIds
	Labels       []string
	// ParallelGroup is nil when unset; the scheduler treats an unset
	// group as group 0.
	ParallelGroup *int
}

// Group returns the task's parallel group, defaulting to 0 when unset.
func (m Metadata) Group() int {
	if m.ParallelGroup == nil {
		return 0
	}
	return *m.ParallelGroup
}

// Task is a single unit of agent work, created by an upstream caller
// and treated as immutable input.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      Status
	Priority    Priority
	Metadata    Metadata
}

// ExecutionOptions are the recognized run-level options, with
// defaults applied by NewExecutionOptions.
type ExecutionOptions struct {
	Parallel      bool
	BranchPerTask bool
	MaxWorkers    int
	BaseBranch    string
	DryRun        bool
	SkipTests     bool
	SkipLint      bool
	FailFast      bool
	SkipMerge     bool
	TaskTimeout   time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

// NewExecutionOptions returns options with the standard defaults:
// MaxWorkers=4, BaseBranch="main", TaskTimeout=66min, MaxRetries=2.
func NewExecutionOptions() ExecutionOptions {
	return ExecutionOptions{
		MaxWorkers:  4,
		BaseBranch:  "main",
		TaskTimeout: 66 * time.Minute,
		MaxRetries:  2,
	}
}

// Hooks are the optional lifecycle callbacks a caller may attach to a
// run. Every field is optional; every invocation is awaited by the
// caller and a panic or error from a hook is logged, never allowed to
// fail the run.
type Hooks struct {
	OnExecutionStart  func(ctx *ExecutionContext, tasks []Task)
	OnTaskStart       func(t Task)
	OnTaskComplete    func(t Task, result TaskExecutionResult)
	OnTaskError       func(t Task, err error)
	OnGroupStart      func(group int, tasks []Task)
	OnGroupComplete   func(group int, results []TaskExecutionResult)
	OnWorktreeCreate  func(t Task, path, branch string)
	OnWorktreeCleanup func(t Task, path string, leftInPlace bool, reason string)
	OnMergeStart      func(branch, target string)
	OnMergeComplete   func(branch, target, commit string)
	OnMergeConflict   func(branch, target string, files []string)
	OnExecutionComplete func(result RunResult)
}

// ExecutionContext is the per-run immutable record passed to a
// strategy.
type ExecutionContext struct {
	RunID   string
	WorkDir string
	Engine  string
	Options ExecutionOptions
	Hooks   Hooks
	Metadata map[string]string
}

// NewExecutionContext builds a context with a fresh RunID.
func NewExecutionContext(workDir, engine string, opts ExecutionOptions, hooks Hooks) *ExecutionContext {
	return &ExecutionContext{
		RunID:   "run-" + uuid.NewString(),
		WorkDir: workDir,
		Engine:  engine,
		Options: opts,
		Hooks:   hooks,
	}
}

// TaskExecutionResult is the outcome of one task's execution.
type TaskExecutionResult struct {
	TaskID       string
	Success      bool
	Branch       string
	Worktree     string
	Duration     time.Duration
	Error        error
	InputTokens  int // reserved; strategies currently record zero
	OutputTokens int // reserved; strategies currently record zero
}

// RunResult is the aggregate outcome of a full run: the
// totals callers need plus every per-task result, so a conflicted merge
// or a failed task is never silently absent from the summary.
type RunResult struct {
	RunID          string
	TasksExecuted  int
	TasksCompleted int
	TasksFailed    int
	TotalDuration  time.Duration
	AllSucceeded   bool
	Results        []TaskExecutionResult
}

// Summarize derives the aggregate fields from a list of per-task results.
func Summarize(runID string, results []TaskExecutionResult, elapsed time.Duration) RunResult {
	r := RunResult{RunID: runID, TasksExecuted: len(results), TotalDuration: elapsed, Results: results}
	allOK := true
	for _, res := range results {
		if res.Success {
			r.TasksCompleted++
		} else {
			r.TasksFailed++
			allOK = false
		}
	}
	r.AllSucceeded = allOK
	return r
}
