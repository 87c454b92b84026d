package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/eizorerad/milhouse-sub002/internal/events"
	"github.com/eizorerad/milhouse-sub002/internal/orcherr"
	"github.com/eizorerad/milhouse-sub002/internal/orchlog"
	"github.com/eizorerad/milhouse-sub002/internal/vcs"
)

// Record identifies one isolated checkout: created by this service,
// owned by the scheduler for the life of its task, destroyed by this
// service only after the merge pass for its wave completes.
type Record struct {
	Path       string
	Branch     string
	WorktreeID string
	RunID      string
	TaskID     string
}

// Service creates and removes isolated worktrees on top of
// internal/vcs. CreateWorktree takes a flock on the managed worktree
// root around its prune/stale-check/add steps. The lock is advisory
// and best-effort: when another holder has it, the work proceeds
// without it after a warning. CleanupAllWorktrees does not take it.
type Service struct {
	workDir string
	git     *vcs.Git
	bus     *events.Bus
	log     *orchlog.Logger
}

// NewService returns a Service bound to workDir.
func NewService(workDir string, bus *events.Bus, log *orchlog.Logger) *Service {
	if log == nil {
		log = orchlog.New("worktree", nil)
	}
	return &Service{workDir: workDir, git: vcs.New(workDir), bus: bus, log: log}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (s *Service) rootLock() *flock.Flock {
	return flock.New(filepath.Join(Root(s.workDir), ".lock"))
}

func (s *Service) withRootLock(fn func() error) error {
	if err := os.MkdirAll(Root(s.workDir), 0o755); err != nil {
		return fmt.Errorf("ensuring worktree root: %w", err)
	}
	fl := s.rootLock()
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring worktree root lock: %w", err)
	}
	if !locked {
		// Another milhouse invocation holds the lock; proceed without
		// it rather than deadlock a long-running agent run, but log so
		// operators can see contention.
		s.log.Warn("worktree root lock busy, proceeding without it")
		return fn()
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// CreateWorktreeOptions configures CreateWorktree.
type CreateWorktreeOptions struct {
	TaskTitle  string
	AgentID    string
	BaseBranch string
	RunID      string
	BranchName string // override; defaults to an agent branch name
}

// CreateWorktree creates an isolated checkout on a fresh branch off
// BaseBranch. The prune, stale-directory check, and `worktree add -B`
// run under the root lock when it is free; if it is busy they run
// without it (see withRootLock).
func (s *Service) CreateWorktree(ctx context.Context, opts CreateWorktreeOptions) (Record, error) {
	worktreeID := Slug(opts.TaskTitle)
	if opts.AgentID != "" {
		worktreeID += "-" + opts.AgentID
	}
	worktreeID += "-" + Nonce(time.Now())

	branch := opts.BranchName
	if branch == "" {
		branch = AgentBranch(opts.RunID, opts.AgentID, opts.TaskTitle, "")
	}

	path := WorktreePath(s.workDir, opts.RunID, worktreeID)

	err := s.withRootLock(func() error {
		if err := s.git.WorktreePrune(ctx); err != nil {
			s.log.Warn("worktree prune failed: %v", err)
		}
		if dirExists(path) {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("removing stale worktree dir: %w", err)
			}
			if err := s.git.WorktreePrune(ctx); err != nil {
				s.log.Warn("worktree prune (post-stale-removal) failed: %v", err)
			}
		}
		// -B eliminates the race between deleting and recreating the
		// branch.
		return s.git.WorktreeAdd(ctx, path, branch, opts.BaseBranch)
	})
	if err != nil {
		return Record{}, orcherr.New(orcherr.WorktreeExists, "createWorktree", err)
	}

	rec := Record{Path: path, Branch: branch, WorktreeID: worktreeID, RunID: opts.RunID}
	s.publish(events.TopicGitWorktreeCreate, "", map[string]any{
		"path": path, "branch": branch, "worktreeId": worktreeID,
	})
	return rec, nil
}

// CleanupResult is the outcome of CleanupWorktree.
type CleanupResult struct {
	LeftInPlace bool
	Reason      string
}

// CleanupWorktree removes the worktree at path. If the path still has
// uncommitted changes and force is false, it is left in place;
// otherwise it is removed. The associated branch is never deleted
// here.
func (s *Service) CleanupWorktree(ctx context.Context, path string, force bool) (CleanupResult, error) {
	if !force {
		dirty, err := s.pathHasUncommittedChanges(ctx, path)
		if err == nil && dirty {
			s.publish(events.TopicGitWorktreeCleanup, "", map[string]any{
				"path": path, "leftInPlace": true, "reason": "uncommitted changes",
			})
			return CleanupResult{LeftInPlace: true, Reason: "uncommitted changes"}, nil
		}
	}

	if err := s.git.WorktreeRemove(ctx, path, true); err != nil {
		return CleanupResult{}, orcherr.New(orcherr.CommandFailed, "cleanupWorktree", err)
	}
	s.publish(events.TopicGitWorktreeCleanup, "", map[string]any{"path": path, "leftInPlace": false})
	return CleanupResult{}, nil
}

func (s *Service) pathHasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	g := vcs.New(path)
	return g.HasUncommittedChanges(ctx), nil
}

// ListWorktrees returns every worktree git currently knows about.
func (s *Service) ListWorktrees(ctx context.Context) ([]vcs.WorktreeEntry, error) {
	entries, err := s.git.ListWorktrees(ctx)
	if err != nil {
		return nil, orcherr.New(orcherr.CommandFailed, "listWorktrees", err)
	}
	return entries, nil
}

// CleanupAllWorktrees removes every managed worktree (new or legacy
// layout) then prunes. Worktrees with uncommitted changes are left in
// place and reported, never force-removed silently. Managed
// directories on disk with no corresponding `git worktree list` entry
// are pruned as orphans.
func (s *Service) CleanupAllWorktrees(ctx context.Context, force bool) (removed []string, leftInPlace []string, err error) {
	entries, err := s.ListWorktrees(ctx)
	if err != nil {
		return nil, nil, err
	}

	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		if IsManaged(e.Path) {
			known[e.Path] = true
			res, cerr := s.CleanupWorktree(ctx, e.Path, force)
			if cerr != nil {
				s.log.Warn("cleanupAllWorktrees: %v", cerr)
				continue
			}
			if res.LeftInPlace {
				leftInPlace = append(leftInPlace, e.Path)
			} else {
				removed = append(removed, e.Path)
			}
		}
	}

	// Orphaned managed directories git no longer reports: prune them
	// directly, logging at info level.
	root := Root(s.workDir)
	if orphans, operr := orphanedManagedDirs(root, known); operr == nil {
		for _, dir := range orphans {
			s.log.Info("removing orphaned managed worktree directory %s", dir)
			if err := os.RemoveAll(dir); err == nil {
				removed = append(removed, dir)
			}
		}
	}

	if err := s.git.WorktreePrune(ctx); err != nil {
		s.log.Warn("cleanupAllWorktrees: final prune failed: %v", err)
	}
	return removed, leftInPlace, nil
}

func orphanedManagedDirs(root string, known map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var orphans []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == ".lock" {
			continue
		}
		full := filepath.Join(root, e.Name())
		if !known[full] {
			orphans = append(orphans, full)
		}
	}
	return orphans, nil
}

// CleanupLegacyWorktreeDirectories removes empty
// .milhouse/runs/{id}/worktrees/ directories and their enclosing
// {id}/ directory when it contains only that subtree.
func (s *Service) CleanupLegacyWorktreeDirectories(ctx context.Context) ([]string, error) {
	runsRoot := filepath.Join(s.workDir, ".milhouse", "runs")
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.New(orcherr.CommandFailed, "cleanupLegacyWorktreeDirectories", err)
	}

	var removed []string
	for _, runEntry := range entries {
		if !runEntry.IsDir() {
			continue
		}
		runDir := filepath.Join(runsRoot, runEntry.Name())
		wtDir := filepath.Join(runDir, "worktrees")
		if !isEmptyDir(wtDir) {
			continue
		}
		siblings, err := os.ReadDir(runDir)
		if err != nil {
			continue
		}
		onlyWorktrees := len(siblings) == 1 && siblings[0].Name() == "worktrees"
		if err := os.RemoveAll(wtDir); err == nil {
			removed = append(removed, wtDir)
			s.log.Info("removed empty legacy worktree directory %s", wtDir)
		}
		if onlyWorktrees {
			if err := os.RemoveAll(runDir); err == nil {
				removed = append(removed, runDir)
				s.log.Info("removed empty legacy run directory %s", runDir)
			}
		}
	}
	return removed, nil
}

func isEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) == 0
}

// Status summarizes a worktree's working-tree state.
type Status struct {
	Path      string
	Branch    string
	Clean     bool
	Modified  []string
	Added     []string
	Deleted   []string
	Untracked []string
}

// GetWorktreeStatus reports the working-tree status of the worktree
// at path.
func (s *Service) GetWorktreeStatus(ctx context.Context, path string) (Status, error) {
	g := vcs.New(path)
	branch, _ := g.CurrentBranch(ctx)

	status := Status{Path: path, Branch: branch}
	raw, rerr := g.StatusPorcelain(ctx)
	if rerr != nil {
		return Status{}, orcherr.New(orcherr.CommandFailed, "getWorktreeStatus", rerr)
	}
	for _, e := range raw {
		switch {
		case e.Index == 'A' || e.Worktree == 'A' || e.Index == '?' && e.Worktree == '?':
			if e.Index == '?' && e.Worktree == '?' {
				status.Untracked = append(status.Untracked, e.Path)
			} else {
				status.Added = append(status.Added, e.Path)
			}
		case e.Index == 'D' || e.Worktree == 'D':
			status.Deleted = append(status.Deleted, e.Path)
		default:
			status.Modified = append(status.Modified, e.Path)
		}
	}
	status.Clean = len(raw) == 0
	return status, nil
}

func (s *Service) publish(topic events.Topic, taskID string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, taskID, payload)
}
