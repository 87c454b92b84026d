// Package exec runs external processes with timeout, cancellation,
// and captured output on behalf of the orchestrator.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"regexp"
	"syscall"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/orcherr"
)

// gracePeriod is how long we wait after a graceful termination signal
// before escalating to a forced kill.
const gracePeriod = 5 * time.Second

// Result is the outcome of a single command invocation. Unlike a Go
// error, Result is always returned on a completed or timed-out
// invocation; only a read-only gate rejection or a failure to start
// the process produces an error.
type Result struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Success reports whether the command exited zero and did not time out.
func (r Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Options controls a single Run invocation.
type Options struct {
	Cwd       string
	Env       []string      // merged over the caller's environment
	Timeout   time.Duration // zero means no timeout
	ReadOnly  bool          // enable the destructive-command safety gate
}

// Runner runs external processes. A zero Runner is ready to use.
type Runner struct{}

// NewRunner constructs a command executor.
func NewRunner() *Runner { return &Runner{} }

// deterministicEnv are overrides applied over the caller's environment
// so porcelain parsers see stable output.
var deterministicEnv = []string{"GIT_PAGER=", "LANG=C", "LC_ALL=C"}

// Run executes command with args, honoring opts.Timeout and opts.ReadOnly.
// It never returns an error for a nonzero exit or a timeout; those are
// reported via the returned Result. An error is returned only if the
// read-only safety gate rejects the command, or the process could not
// be started at all.
func (r *Runner) Run(ctx context.Context, command string, args []string, opts Options) (Result, error) {
	if opts.ReadOnly {
		if reason, blocked := isDestructive(command, args); blocked {
			return Result{}, orcherr.New(orcherr.InvalidArgument, "exec.Run",
				fmt.Errorf("refusing to run destructive command in read-only mode: %s", reason))
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := osexec.CommandContext(runCtx, command, args...)
	cmd.Dir = opts.Cwd
	cmd.Stdin = nil
	cmd.Env = append(append([]string{}, os.Environ()...), opts.Env...)
	cmd.Env = append(cmd.Env, deterministicEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Graceful-then-forced termination: on cancellation or timeout send
	// SIGTERM; WaitDelay escalates to a kill if the child has not exited
	// within the grace period.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	res := Result{
		Command:  command,
		Args:     args,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}

	if err != nil {
		if exitErr, ok := err.(*osexec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		// Failed to start the process at all.
		return Result{}, orcherr.Wrap(orcherr.CommandFailed, "exec.Run", command, args, err)
	}

	res.ExitCode = 0
	return res, nil
}

// destructivePatterns reject obviously destructive commands when the
// read-only safety gate is enabled: file removal with
// root/parent targets, SQL DROP/TRUNCATE, Redis FLUSHALL, forced git
// resets/pushes, privileged escalation, pipe-to-shell.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf?\s+(/|~|\.\.)`),
	regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE|SCHEMA)\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\s+TABLE\b`),
	regexp.MustCompile(`(?i)\bFLUSHALL\b`),
	regexp.MustCompile(`(?i)\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`(?i)\bgit\s+push\s+.*--force\b`),
	regexp.MustCompile(`(?i)\bsudo\b`),
	regexp.MustCompile(`(?i)\bcurl\b.*\|\s*(sh|bash)\b`),
}

func isDestructive(command string, args []string) (string, bool) {
	joined := command
	for _, a := range args {
		joined += " " + a
	}
	for _, pat := range destructivePatterns {
		if pat.MatchString(joined) {
			return pat.String(), true
		}
	}
	return "", false
}
