// Package agent defines the external agent-runner interface the
// scheduler invokes, plus a subprocess-backed implementation so the
// CLI is runnable end to end. The orchestrator treats the agent as
// opaque: it hands over a prompt and a working directory and reads
// back an exit status.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/exec"
	"github.com/eizorerad/milhouse-sub002/internal/task"
)

// Result is the agent's opaque outcome: the orchestrator never
// parses Output, it only checks Success/ExitCode/Error.
type Result struct {
	Success  bool
	Output   string
	Steps    int
	Duration time.Duration
	ExitCode int
	Error    error
}

// Runner is the external agent interface consumed by the scheduler.
type Runner interface {
	Execute(ctx context.Context, prompt, workDir, taskID string) (Result, error)
}

// BuildPrompt is a pure function of a task and the run's options: no
// external state, no templating engine, the same inputs always
// produce the same prompt.
func BuildPrompt(t task.Task, opts task.ExecutionOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Description)
	}
	fmt.Fprintf(&b, "\nPriority: %s\n", t.Priority)
	if opts.SkipTests {
		b.WriteString("Skip running the test suite.\n")
	}
	if opts.SkipLint {
		b.WriteString("Skip running the linter.\n")
	}
	return b.String()
}

// SubprocessRunner implements Runner by invoking a configured binary
// with the prompt as its last argument via internal/exec's command
// executor.
type SubprocessRunner struct {
	Command string
	Args    []string
	Runner  *exec.Runner
	Timeout time.Duration
}

// NewSubprocessRunner returns a SubprocessRunner invoking command with
// args, honoring timeout (zero means no timeout).
func NewSubprocessRunner(command string, args []string, timeout time.Duration) *SubprocessRunner {
	return &SubprocessRunner{Command: command, Args: args, Runner: exec.NewRunner(), Timeout: timeout}
}

// Execute runs the configured agent binary with the prompt passed as a
// trailing argument (promptArg convention), in workDir, and translates
// the command result into an agent Result.
func (r *SubprocessRunner) Execute(ctx context.Context, prompt, workDir, taskID string) (Result, error) {
	args := append(append([]string{}, r.Args...), prompt)
	res, err := r.Runner.Run(ctx, r.Command, args, exec.Options{
		Cwd:     workDir,
		Timeout: r.Timeout,
		Env:     []string{"MILHOUSE_TASK_ID=" + taskID},
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success:  res.Success(),
		Output:   res.Stdout,
		Duration: res.Duration,
		ExitCode: res.ExitCode,
	}, nil
}
