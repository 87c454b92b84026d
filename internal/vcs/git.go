// Package vcs is the orchestrator's typed VCS backend: wrappers over
// git plumbing that return typed results and never raise on a nonzero
// git exit code, leaving interpretation to higher layers.
package vcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/exec"
	"github.com/eizorerad/milhouse-sub002/internal/orcherr"
)

// defaultCommandTimeout is the per-command timeout used by merge and
// rebase operations unless a caller overrides it.
const defaultCommandTimeout = 30 * time.Second

// Git wraps a working directory (or bare gitDir) and runs git plumbing
// through the shared command executor.
type Git struct {
	workDir string
	runner  *exec.Runner
}

// New returns a Git bound to workDir.
func New(workDir string) *Git {
	return &Git{workDir: workDir, runner: exec.NewRunner()}
}

// WorkDir returns the bound working directory.
func (g *Git) WorkDir() string { return g.workDir }

// run executes `git <args...>` in the bound working directory and
// returns an *orcherr.Error on nonzero exit or invocation failure. Callers
// that need to distinguish a nonzero exit from a usable result (e.g.
// conflict detection) should use runRaw instead.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	res, err := g.runRaw(ctx, args...)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		kind := orcherr.CommandFailed
		if res.TimedOut {
			kind = orcherr.CommandTimeout
		}
		return "", &orcherr.Error{
			Kind:    kind,
			Op:      "git",
			Command: "git",
			Args:    args,
			Err:     fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
		}
	}
	return strings.TrimSpace(res.Stdout), nil
}

// runRaw executes git without classifying a nonzero exit as an error;
// callers parse res directly (e.g. Merge, StatusPorcelain).
func (g *Git) runRaw(ctx context.Context, args ...string) (exec.Result, error) {
	return g.runner.Run(ctx, "git", args, exec.Options{
		Cwd:     g.workDir,
		Timeout: defaultCommandTimeout,
	})
}

// IsRepo reports whether the bound directory is inside a git work tree.
func (g *Git) IsRepo() bool {
	res, err := g.runRaw(context.Background(), "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return res.Success() && strings.TrimSpace(res.Stdout) == "true"
}

// CurrentBranch returns the checked-out branch name, or "HEAD" if
// detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// DefaultBaseBranch prefers main, falls back to master, falls back to
// the current branch.
func (g *Git) DefaultBaseBranch(ctx context.Context) (string, error) {
	if g.BranchExists(ctx, "main") {
		return "main", nil
	}
	if g.BranchExists(ctx, "master") {
		return "master", nil
	}
	return g.CurrentBranch(ctx)
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(ctx context.Context, name string) bool {
	res, err := g.runRaw(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil && res.Success()
}

// Checkout checks out an existing branch.
func (g *Git) Checkout(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "checkout", branch)
	return err
}

// CreateBranch creates and checks out a new branch from base.
func (g *Git) CreateBranch(ctx context.Context, name, base string) error {
	_, err := g.run(ctx, "checkout", "-b", name, base)
	return err
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (g *Git) HasUncommittedChanges(ctx context.Context) bool {
	res, err := g.runRaw(ctx, "status", "--porcelain")
	if err != nil || !res.Success() {
		return false
	}
	return strings.TrimSpace(res.Stdout) != ""
}

// Pull does a best-effort `git pull origin <branch>`; network
// failures are swallowed.
func (g *Git) Pull(ctx context.Context, branch string) {
	_, _ = g.run(ctx, "pull", "origin", branch)
}

// DeleteLocalBranch deletes a local branch. force selects -D over -d
// and is exposed for callers that have already confirmed a merge; the
// orchestrator itself never force-deletes.
func (g *Git) DeleteLocalBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run(ctx, "branch", flag, name)
	return err
}

// AddAll stages all changes.
func (g *Git) AddAll(ctx context.Context) error {
	_, err := g.run(ctx, "add", "-A")
	return err
}

// CommitAll stages and commits all changes with message.
func (g *Git) CommitAll(ctx context.Context, message string) error {
	if err := g.AddAll(ctx); err != nil {
		return err
	}
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}

// Rev resolves a ref to its commit hash.
func (g *Git) Rev(ctx context.Context, ref string) (string, error) {
	return g.run(ctx, "rev-parse", ref)
}
