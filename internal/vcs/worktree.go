package vcs

import (
	"context"
	"fmt"
	"os"
	"strings"
)

func trimmed(s string) string { return strings.TrimSpace(s) }

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// WorktreeAdd creates a worktree at path, creating or resetting
// branch to point at base. Uses `-B` so the create-branch-and-add
// step is atomic, eliminating the delete/recreate race.
func (g *Git) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	_, err := g.run(ctx, "worktree", "add", "-B", branch, path, base)
	return err
}

// WorktreeAddDetached creates a detached worktree at path checked out
// at ref, used by the safe-merge-in-worktree path.
func (g *Git) WorktreeAddDetached(ctx context.Context, path, ref string) error {
	_, err := g.run(ctx, "worktree", "add", "--detach", path, ref)
	return err
}

// WorktreeRemove removes the worktree at path. force maps to `-f`.
func (g *Git) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, path)
	_, err := g.run(ctx, args...)
	return err
}

// WorktreePrune removes stale worktree administrative files.
func (g *Git) WorktreePrune(ctx context.Context) error {
	_, err := g.run(ctx, "worktree", "prune")
	return err
}

// Merge performs `git merge [--no-ff] branch -m message` and returns
// the raw result without classifying conflicts; callers use
// ConflictedFiles to interpret a nonzero exit.
func (g *Git) Merge(ctx context.Context, branch, message string, noFF bool) (ok bool, stderr string, err error) {
	args := []string{"merge"}
	if noFF {
		args = append(args, "--no-ff")
	}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, branch)
	res, rerr := g.runRaw(ctx, args...)
	if rerr != nil {
		return false, "", rerr
	}
	return res.Success(), res.Stderr, nil
}

// AbortMerge runs `git merge --abort`, ignoring errors if no merge is
// in progress.
func (g *Git) AbortMerge(ctx context.Context) {
	_, _ = g.runRaw(ctx, "merge", "--abort")
}

// StatusPorcelain returns the parsed `status --porcelain` records for
// the bound working directory.
func (g *Git) StatusPorcelain(ctx context.Context) ([]StatusEntry, error) {
	res, err := g.runRaw(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseStatusPorcelain(res.Stdout), nil
}

// ConflictedFiles lists files with unmerged (conflict) status via
// `status --porcelain`.
func (g *Git) ConflictedFiles(ctx context.Context) ([]string, error) {
	entries, err := g.StatusPorcelain(ctx)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Conflicted() {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

// Rebase performs `git rebase onto`, returning the raw stderr for the
// caller's error message.
func (g *Git) Rebase(ctx context.Context, onto string) (ok bool, stderr string, err error) {
	res, rerr := g.runRaw(ctx, "rebase", onto)
	if rerr != nil {
		return false, "", rerr
	}
	return res.Success(), res.Stderr, nil
}

// AbortRebase runs `git rebase --abort`, ignoring errors if none is in
// progress.
func (g *Git) AbortRebase(ctx context.Context) {
	_, _ = g.runRaw(ctx, "rebase", "--abort")
}

// ContinueRebase stages all files then runs `git rebase --continue`.
func (g *Git) ContinueRebase(ctx context.Context) error {
	if err := g.AddAll(ctx); err != nil {
		return err
	}
	_, err := g.run(ctx, "rebase", "--continue")
	return err
}

// IsRebaseInProgress checks for rebase-merge/rebase-apply state dirs.
func (g *Git) IsRebaseInProgress(ctx context.Context) bool {
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		res, err := g.runRaw(ctx, "rev-parse", "--git-path", dir)
		if err != nil || !res.Success() {
			continue
		}
		path := trimmed(res.Stdout)
		if path != "" && dirExists(path) {
			return true
		}
	}
	return false
}

// StashPush stashes tracked+untracked changes with an optional label.
// Returns stashed=false if there was nothing to stash.
func (g *Git) StashPush(ctx context.Context, message string) (stashed bool, err error) {
	if !g.HasUncommittedChanges(ctx) {
		return false, nil
	}
	args := []string{"stash", "push", "-u"}
	if message != "" {
		args = append(args, "-m", message)
	}
	_, err = g.run(ctx, args...)
	if err != nil {
		return false, err
	}
	return true, nil
}

// StashPop pops the most recent stash. Returns popped=false if there
// was no stash to pop (distinguished from a real pop failure).
func (g *Git) StashPop(ctx context.Context) (popped bool, err error) {
	res, rerr := g.runRaw(ctx, "stash", "list")
	if rerr != nil {
		return false, rerr
	}
	if res.Stdout == "" {
		return false, nil
	}
	_, err = g.run(ctx, "stash", "pop")
	if err != nil {
		return false, err
	}
	return true, nil
}

// StashCount returns the number of entries in the stash.
func (g *Git) StashCount(ctx context.Context) int {
	res, err := g.runRaw(ctx, "stash", "list")
	if err != nil || res.Stdout == "" {
		return 0
	}
	return len(splitNonEmptyLines(res.Stdout))
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			if line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}

// ListWorktrees returns the parsed output of `worktree list --porcelain`.
func (g *Git) ListWorktrees(ctx context.Context) ([]WorktreeEntry, error) {
	res, err := g.runRaw(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeListPorcelain(res.Stdout), nil
}

// ListBranches returns the parsed output of `branch --list -v`.
func (g *Git) ListBranches(ctx context.Context, pattern string) ([]BranchEntry, error) {
	args := []string{"branch", "--list", "-v"}
	if pattern != "" {
		args = append(args, pattern)
	}
	res, err := g.runRaw(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseBranchListVerbose(res.Stdout), nil
}

// DiffNameOnly returns `diff --name-only` between two refs (or the
// working tree if to is empty).
func (g *Git) DiffNameOnly(ctx context.Context, from, to string) ([]string, error) {
	args := []string{"diff", "--name-only", from}
	if to != "" {
		args[len(args)-1] = fmt.Sprintf("%s..%s", from, to)
	}
	res, err := g.runRaw(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseDiffNameOnly(res.Stdout), nil
}

// LogOneline returns `log --oneline` commits for rangeSpec.
func (g *Git) LogOneline(ctx context.Context, rangeSpec string) ([]LogEntry, error) {
	res, err := g.runRaw(ctx, "log", "--oneline", rangeSpec)
	if err != nil {
		return nil, err
	}
	return ParseLogOneline(res.Stdout), nil
}

// CommitsSinceBase implements getCommitsSinceBase(dir, base).
func (g *Git) CommitsSinceBase(ctx context.Context, base string) ([]LogEntry, error) {
	return g.LogOneline(ctx, base+"..HEAD")
}

// DiffNumstat returns `diff --numstat` records, optionally against the
// index (cached) and/or a specific ref.
func (g *Git) DiffNumstat(ctx context.Context, cached bool, ref string) ([]NumstatEntry, error) {
	args := []string{"diff", "--numstat"}
	if cached {
		args = append(args, "--cached")
	}
	if ref != "" {
		args = append(args, ref)
	}
	res, err := g.runRaw(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseDiffNumstat(res.Stdout), nil
}

// DiffContent returns raw diff text for getDiffContent(dir, opts).
func (g *Git) DiffContent(ctx context.Context, cached bool, ref, file string, unified int) (string, error) {
	args := []string{"diff"}
	if cached {
		args = append(args, "--cached")
	}
	if unified > 0 {
		args = append(args, fmt.Sprintf("-U%d", unified))
	}
	if ref != "" {
		args = append(args, ref)
	}
	if file != "" {
		args = append(args, "--", file)
	}
	res, err := g.runRaw(ctx, args...)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
