// Package pr publishes completed branches: push to origin and open a
// pull request through the host's gh CLI. This is the PR-publisher
// collaborator the orchestration core treats as external; nothing in
// the scheduler depends on it.
package pr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/exec"
	"github.com/eizorerad/milhouse-sub002/internal/orcherr"
)

// Publisher pushes branches and opens PRs against the repository at
// workDir.
type Publisher struct {
	workDir string
	runner  *exec.Runner
	timeout time.Duration
}

// NewPublisher returns a Publisher for workDir. Network operations get
// a generous timeout since pushes can be slow on large repos.
func NewPublisher(workDir string) *Publisher {
	return &Publisher{workDir: workDir, runner: exec.NewRunner(), timeout: 2 * time.Minute}
}

func (p *Publisher) run(ctx context.Context, command string, args ...string) (exec.Result, error) {
	return p.runner.Run(ctx, command, args, exec.Options{Cwd: p.workDir, Timeout: p.timeout})
}

// Push pushes branch to origin, setting the upstream.
func (p *Publisher) Push(ctx context.Context, branch string) error {
	res, err := p.run(ctx, "git", "push", "-u", "origin", branch)
	if err != nil {
		return orcherr.New(orcherr.PushFailed, "pr.Push", err)
	}
	if !res.Success() {
		return orcherr.New(orcherr.PushFailed, "pr.Push",
			fmt.Errorf("git push exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	return nil
}

// CreateOptions configures Create.
type CreateOptions struct {
	Title string
	Body  string
	Base  string
	Head  string
	Draft bool
}

// Create opens a pull request via `gh pr create` and returns the PR URL
// gh prints on success.
func (p *Publisher) Create(ctx context.Context, opts CreateOptions) (string, error) {
	args := []string{"pr", "create", "--title", opts.Title, "--body", opts.Body}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}
	if opts.Head != "" {
		args = append(args, "--head", opts.Head)
	}
	if opts.Draft {
		args = append(args, "--draft")
	}

	res, err := p.run(ctx, "gh", args...)
	if err != nil {
		return "", orcherr.New(orcherr.PRCreationFailed, "pr.Create", err)
	}
	if !res.Success() {
		return "", orcherr.New(orcherr.PRCreationFailed, "pr.Create",
			fmt.Errorf("gh pr create exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// View returns `gh pr view` output for branch.
func (p *Publisher) View(ctx context.Context, branch string) (string, error) {
	res, err := p.run(ctx, "gh", "pr", "view", branch)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", orcherr.New(orcherr.PRCreationFailed, "pr.View",
			fmt.Errorf("gh pr view exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	return res.Stdout, nil
}

// List returns `gh pr list` output.
func (p *Publisher) List(ctx context.Context) (string, error) {
	res, err := p.run(ctx, "gh", "pr", "list")
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", orcherr.New(orcherr.PRCreationFailed, "pr.List",
			fmt.Errorf("gh pr list exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	return res.Stdout, nil
}

// Authenticated reports whether the gh CLI has valid credentials.
func (p *Publisher) Authenticated(ctx context.Context) bool {
	res, err := p.run(ctx, "gh", "auth", "status")
	return err == nil && res.Success()
}
