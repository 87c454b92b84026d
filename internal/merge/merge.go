// Package merge is the orchestrator's merge pipeline: single-branch
// merge, safe-merge-in-temporary-worktree, batch merge with retries,
// stash wrappers, and rebase helpers, composed from the merge/stash/
// rebase primitives in internal/vcs.
package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/events"
	"github.com/eizorerad/milhouse-sub002/internal/orcherr"
	"github.com/eizorerad/milhouse-sub002/internal/orchlog"
	"github.com/eizorerad/milhouse-sub002/internal/vcs"
	"github.com/eizorerad/milhouse-sub002/internal/worktree"
)

// Pipeline integrates agent branches on top of internal/vcs and
// internal/worktree.
type Pipeline struct {
	workDir string
	git     *vcs.Git
	bus     *events.Bus
	log     *orchlog.Logger
}

// NewPipeline returns a Pipeline bound to workDir. bus and log may be
// nil.
func NewPipeline(workDir string, bus *events.Bus, log *orchlog.Logger) *Pipeline {
	if log == nil {
		log = orchlog.New("merge", nil)
	}
	return &Pipeline{workDir: workDir, git: vcs.New(workDir), bus: bus, log: log}
}

// Result is the outcome of a single-branch or safe-in-worktree merge.
// A conflict is not an error: it is a successful result with
// HasConflicts=true.
type Result struct {
	Success         bool
	HasConflicts    bool
	ConflictedFiles []string
	Commit          string
}

// MergeAgentBranch checks out target and merges source into it,
// classifying a nonzero exit as a conflict (by reading status
// --porcelain) or a hard merge failure.
func (p *Pipeline) MergeAgentBranch(ctx context.Context, source, target, message string, allowFastForward bool) (Result, error) {
	p.publish(events.TopicGitMergeStart, "", map[string]any{"source": source, "target": target})

	if err := p.git.Checkout(ctx, target); err != nil {
		return Result{}, orcherr.New(orcherr.BranchNotFound, "mergeAgentBranch.checkout", err)
	}

	msg := message
	if msg == "" {
		msg = fmt.Sprintf("Merge %s into %s", source, target)
	}
	ok, stderr, err := p.git.Merge(ctx, source, msg, !allowFastForward)
	if err != nil {
		return Result{}, orcherr.New(orcherr.CommandFailed, "mergeAgentBranch.merge", err)
	}
	if ok {
		commit, _ := p.git.Rev(ctx, "HEAD")
		p.publish(events.TopicGitMergeComplete, "", map[string]any{
			"source": source, "target": target, "commit": commit,
		})
		return Result{Success: true, Commit: commit}, nil
	}

	files, ferr := p.git.ConflictedFiles(ctx)
	if ferr == nil && len(files) > 0 {
		p.publish(events.TopicGitMergeConflict, "", map[string]any{
			"source": source, "target": target, "files": files,
		})
		return Result{Success: false, HasConflicts: true, ConflictedFiles: files}, nil
	}

	_ = stderr
	p.git.AbortMerge(ctx)
	return Result{}, orcherr.New(orcherr.MergeFailed, "mergeAgentBranch.merge",
		fmt.Errorf("merge of %s into %s failed without conflicts: %s", source, target, stderr))
}

// SafeMergeInWorktree merges source into targetBranch inside a
// detached scratch worktree, so the operator's working tree is never
// left half-merged and a merge that touches the same repository as
// another in-flight task does not block checkout there. Cleanup of
// the scratch worktree is unconditional: the deferred finalizer runs
// on every return path.
func (p *Pipeline) SafeMergeInWorktree(ctx context.Context, runID, source, targetBranch string) (Result, error) {
	scratchPath := worktree.MergeScratchPath(p.workDir, runID, time.Now())

	if err := p.git.WorktreePrune(ctx); err != nil {
		p.log.Warn("safeMergeInWorktree: prune failed: %v", err)
	}
	if err := p.git.WorktreeAddDetached(ctx, scratchPath, targetBranch); err != nil {
		return Result{}, orcherr.New(orcherr.WorktreeNotFound, "safeMergeInWorktree.add", err)
	}

	cleanup := func() {
		if err := p.git.WorktreeRemove(ctx, scratchPath, true); err != nil {
			p.log.Warn("safeMergeInWorktree: scratch cleanup failed: %v", err)
		}
	}
	defer cleanup()

	p.publish(events.TopicGitMergeStart, "", map[string]any{"source": source, "target": targetBranch})

	scratchGit := vcs.New(scratchPath)
	ok, stderr, err := scratchGit.Merge(ctx, source, fmt.Sprintf("Merge %s into %s", source, targetBranch), true)
	if err != nil {
		return Result{}, orcherr.New(orcherr.CommandFailed, "safeMergeInWorktree.merge", err)
	}
	if ok {
		commit, _ := scratchGit.Rev(ctx, "HEAD")
		p.publish(events.TopicGitMergeComplete, "", map[string]any{
			"source": source, "target": targetBranch, "commit": commit,
		})
		return Result{Success: true, Commit: commit}, nil
	}

	files, ferr := scratchGit.ConflictedFiles(ctx)
	scratchGit.AbortMerge(ctx)
	if ferr == nil && len(files) > 0 {
		p.publish(events.TopicGitMergeConflict, "", map[string]any{
			"source": source, "target": targetBranch, "files": files,
		})
		return Result{Success: false, HasConflicts: true, ConflictedFiles: files}, nil
	}
	return Result{}, orcherr.New(orcherr.MergeFailed, "safeMergeInWorktree.merge",
		fmt.Errorf("merge of %s into %s failed without conflicts: %s", source, targetBranch, stderr))
}

// BranchMergeOutcome records the fate of a single branch in a batch merge.
type BranchMergeOutcome struct {
	Branch          string
	Commit          string
	ConflictedFiles []string
	Error           error
}

// ConflictResolver is the caller-supplied hook invoked on a conflict;
// it must have staged a resolution on disk (usually via the external
// agent) and committed it to the source branch before returning true
// to request a retry.
type ConflictResolver func(files []string, branch, workDir string) bool

// BatchResult holds the three disjoint outcome lists from BatchMergeWithRetry.
type BatchResult struct {
	Succeeded []BranchMergeOutcome
	Failed    []BranchMergeOutcome
	Conflicted []BranchMergeOutcome
}

// BatchMergeWithRetry merges each branch into targetBranch, retrying
// safe-merges up to maxRetries times; a conflict retries only if
// onConflict reports the source branch was repaired.
func (p *Pipeline) BatchMergeWithRetry(ctx context.Context, runID string, branches []string, targetBranch string, maxRetries int, onConflict ConflictResolver) BatchResult {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	var result BatchResult

	for _, branch := range branches {
		var last Result
		var lastErr error
		for attempt := 0; attempt < maxRetries; attempt++ {
			res, err := p.SafeMergeInWorktree(ctx, runID, branch, targetBranch)
			if err != nil {
				lastErr = err
				break
			}
			last = res
			if res.Success {
				break
			}
			if res.HasConflicts {
				if onConflict != nil && onConflict(res.ConflictedFiles, branch, p.workDir) {
					continue // resolver repaired the source branch; retry
				}
				break
			}
			break
		}

		switch {
		case lastErr != nil:
			result.Failed = append(result.Failed, BranchMergeOutcome{Branch: branch, Error: lastErr})
		case last.Success:
			result.Succeeded = append(result.Succeeded, BranchMergeOutcome{Branch: branch, Commit: last.Commit})
		case last.HasConflicts:
			result.Conflicted = append(result.Conflicted, BranchMergeOutcome{Branch: branch, ConflictedFiles: last.ConflictedFiles})
		default:
			result.Failed = append(result.Failed, BranchMergeOutcome{Branch: branch, Error: fmt.Errorf("merge of %s did not succeed", branch)})
		}
	}
	return result
}

// StashResult is the outcome of StashChanges.
type StashResult struct {
	Stashed bool
}

// StashChanges stashes the working tree if dirty. No event is emitted
// either way.
func (p *Pipeline) StashChanges(ctx context.Context, message string) (StashResult, error) {
	stashed, err := p.git.StashPush(ctx, message)
	if err != nil {
		return StashResult{}, orcherr.New(orcherr.CommandFailed, "stashChanges", err)
	}
	return StashResult{Stashed: stashed}, nil
}

// PopStash implements popStash(workDir): true on a successful pop,
// false if there was no stash, error otherwise.
func (p *Pipeline) PopStash(ctx context.Context) (bool, error) {
	popped, err := p.git.StashPop(ctx)
	if err != nil {
		return false, orcherr.New(orcherr.CommandFailed, "popStash", err)
	}
	return popped, nil
}

// WithAutoStash stashes if dirty, runs op, then pops unconditionally.
// The operation's result is always returned; a failed pop is logged
// as a warning and never fails the operation.
func (p *Pipeline) WithAutoStash(ctx context.Context, op func() error) error {
	stashed, err := p.StashChanges(ctx, worktree.StashIdentifier)
	if err != nil {
		return err
	}

	opErr := op()

	if stashed.Stashed {
		if _, perr := p.PopStash(ctx); perr != nil {
			p.log.Warn("withAutoStash: stash pop failed: %v", perr)
		}
	}
	return opErr
}

// RebaseResult is the outcome of RebaseBranch.
type RebaseResult struct {
	Success bool
}

var (
	dirtyWorktreeRe = []string{"uncommitted changes", "would be overwritten"}
	branchLockedRe  = []string{"already checked out", "is already used by worktree"}
)

// RebaseBranch checks out target and rebases it onto source. It
// parallels MergeAgentBranch but classifies two specific checkout
// failures, dirty-worktree and branch-locked, from git's stderr
// text.
func (p *Pipeline) RebaseBranch(ctx context.Context, source, target string) (RebaseResult, error) {
	p.publish(events.TopicGitRebaseStart, "", map[string]any{"source": source, "target": target})

	if err := p.git.Checkout(ctx, target); err != nil {
		errStr := err.Error()
		for _, s := range dirtyWorktreeRe {
			if strings.Contains(errStr, s) {
				return RebaseResult{}, orcherr.New(orcherr.DirtyWorktree, "rebaseBranch.checkout", err)
			}
		}
		for _, s := range branchLockedRe {
			if strings.Contains(errStr, s) {
				return RebaseResult{}, orcherr.New(orcherr.BranchLocked, "rebaseBranch.checkout", err)
			}
		}
		return RebaseResult{}, orcherr.New(orcherr.BranchNotFound, "rebaseBranch.checkout", err)
	}

	ok, stderr, err := p.git.Rebase(ctx, source)
	if err != nil {
		return RebaseResult{}, orcherr.New(orcherr.CommandFailed, "rebaseBranch.rebase", err)
	}
	if !ok {
		files, _ := p.git.ConflictedFiles(ctx)
		if len(files) > 0 {
			p.publish(events.TopicGitRebaseConflict, "", map[string]any{
				"source": source, "target": target, "files": files,
			})
		}
		return RebaseResult{}, orcherr.New(orcherr.RebaseFailed, "rebaseBranch.rebase",
			fmt.Errorf("rebase failed: %s", stderr))
	}
	p.publish(events.TopicGitRebaseComplete, "", map[string]any{"source": source, "target": target})
	return RebaseResult{Success: true}, nil
}

// AbortMerge aborts an in-progress merge, leaving the working tree at
// its pre-merge state. Callers that received HasConflicts from
// MergeAgentBranch use this before proceeding.
func (p *Pipeline) AbortMerge(ctx context.Context) { p.git.AbortMerge(ctx) }

// AbortRebase aborts an in-progress rebase.
func (p *Pipeline) AbortRebase(ctx context.Context) { p.git.AbortRebase(ctx) }

// ContinueRebase stages all files and continues an in-progress rebase.
func (p *Pipeline) ContinueRebase(ctx context.Context) error {
	if err := p.git.ContinueRebase(ctx); err != nil {
		return orcherr.New(orcherr.RebaseFailed, "continueRebase", err)
	}
	return nil
}

// IsRebaseInProgress reports whether a rebase is currently in progress.
func (p *Pipeline) IsRebaseInProgress(ctx context.Context) bool {
	return p.git.IsRebaseInProgress(ctx)
}

func (p *Pipeline) publish(topic events.Topic, taskID string, payload map[string]any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(topic, taskID, payload)
}
