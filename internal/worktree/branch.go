package worktree

import (
	"context"

	"github.com/eizorerad/milhouse-sub002/internal/events"
	"github.com/eizorerad/milhouse-sub002/internal/orcherr"
	"github.com/eizorerad/milhouse-sub002/internal/orchlog"
	"github.com/eizorerad/milhouse-sub002/internal/vcs"
)

// BranchService manages task branches in the main repository on top
// of internal/vcs.
type BranchService struct {
	git    *vcs.Git
	bus    *events.Bus
	log    *orchlog.Logger
}

// NewBranchService returns a BranchService bound to a repository. bus
// and log may be nil (events/logging are then no-ops).
func NewBranchService(workDir string, bus *events.Bus, log *orchlog.Logger) *BranchService {
	if log == nil {
		log = orchlog.New("worktree", nil)
	}
	return &BranchService{git: vcs.New(workDir), bus: bus, log: log}
}

// CreateTaskBranchOptions configures CreateTaskBranch.
type CreateTaskBranchOptions struct {
	TaskTitle     string
	BaseBranch    string
	StashChanges  bool // stash a dirty tree first; the zero value does not stash
	BranchPrefix  string
}

// CreateTaskBranchResult is the outcome of CreateTaskBranch.
type CreateTaskBranchResult struct {
	BranchName     string
	Stashed        bool
	PreviousBranch string
}

// CreateTaskBranch switches to a task branch off baseBranch,
// auto-stashing a dirty working tree first. The pop runs exactly once
// along every exit path: a single popOnce guard prevents a double
// pop.
func (s *BranchService) CreateTaskBranch(ctx context.Context, opts CreateTaskBranchOptions) (CreateTaskBranchResult, error) {
	previous, err := s.git.CurrentBranch(ctx)
	if err != nil {
		return CreateTaskBranchResult{}, orcherr.New(orcherr.CommandFailed, "createTaskBranch", err)
	}

	result := CreateTaskBranchResult{PreviousBranch: previous}

	stashed := false
	if opts.StashChanges && s.git.HasUncommittedChanges(ctx) {
		ok, serr := s.git.StashPush(ctx, StashIdentifier)
		if serr != nil {
			return CreateTaskBranchResult{}, orcherr.New(orcherr.CommandFailed, "createTaskBranch.stash", serr)
		}
		stashed = ok
	}
	result.Stashed = stashed

	popped := false
	popOnce := func() {
		if stashed && !popped {
			popped = true
			if _, perr := s.git.StashPop(ctx); perr != nil {
				s.log.Warn("createTaskBranch: stash pop failed: %v", perr)
			}
		}
	}

	fail := func(op string, err error) (CreateTaskBranchResult, error) {
		popOnce()
		return CreateTaskBranchResult{}, orcherr.New(orcherr.CommandFailed, op, err)
	}

	if err := s.git.Checkout(ctx, opts.BaseBranch); err != nil {
		return fail("createTaskBranch.checkoutBase", err)
	}

	// Best-effort refresh; network failures are swallowed.
	s.git.Pull(ctx, opts.BaseBranch)

	branchName := opts.BranchPrefix
	if branchName == "" {
		branchName = TaskBranch(opts.TaskTitle)
	}

	if s.git.BranchExists(ctx, branchName) {
		if err := s.git.Checkout(ctx, branchName); err != nil {
			return fail("createTaskBranch.checkoutExisting", err)
		}
	} else {
		if err := s.git.CreateBranch(ctx, branchName, opts.BaseBranch); err != nil {
			return fail("createTaskBranch.createBranch", err)
		}
	}

	s.publish(events.TopicGitBranchCreate, "", map[string]any{
		"branch": branchName,
		"base":   opts.BaseBranch,
	})

	result.BranchName = branchName
	popOnce()
	return result, nil
}

// GetCurrentBranch returns the checked-out branch.
func (s *BranchService) GetCurrentBranch(ctx context.Context) (string, error) {
	return s.git.CurrentBranch(ctx)
}

// GetDefaultBaseBranch prefers main, falls back to master, falls back
// to the current branch.
func (s *BranchService) GetDefaultBaseBranch(ctx context.Context) (string, error) {
	return s.git.DefaultBaseBranch(ctx)
}

// ReturnToBaseBranch checks out base, surfacing any error wrapped.
func (s *BranchService) ReturnToBaseBranch(ctx context.Context, base string) error {
	if err := s.git.Checkout(ctx, base); err != nil {
		return orcherr.New(orcherr.BranchNotFound, "returnToBaseBranch", err)
	}
	return nil
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (s *BranchService) HasUncommittedChanges(ctx context.Context) bool {
	return s.git.HasUncommittedChanges(ctx)
}

// BranchExists reports whether a local branch exists.
func (s *BranchService) BranchExists(ctx context.Context, name string) bool {
	return s.git.BranchExists(ctx, name)
}

// DeleteLocalBranch deletes a local branch. Callers that pass
// force=true must have already confirmed a successful merge; nothing
// here force-deletes on its own initiative.
func (s *BranchService) DeleteLocalBranch(ctx context.Context, name string, force bool) error {
	if err := s.git.DeleteLocalBranch(ctx, name, force); err != nil {
		return orcherr.New(orcherr.CommandFailed, "deleteLocalBranch", err)
	}
	return nil
}

// ListLocalBranches lists local branches, optionally filtered by a
// glob-style pattern understood by `git branch --list`.
func (s *BranchService) ListLocalBranches(ctx context.Context, pattern string) ([]vcs.BranchEntry, error) {
	entries, err := s.git.ListBranches(ctx, pattern)
	if err != nil {
		return nil, orcherr.New(orcherr.CommandFailed, "listLocalBranches", err)
	}
	return entries, nil
}

func (s *BranchService) publish(topic events.Topic, taskID string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, taskID, payload)
}
