// Package worktree is the orchestrator's worktree and branch policy
// layer: naming, paths, identity checks, legacy-layout detection, and
// the branch/worktree services built on top of internal/vcs.
package worktree

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxSlugLen = 50

var nonAlphaNumRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s, collapses runs of non-alphanumerics to a single
// "-", trims leading/trailing "-", and caps the result at 50 chars.
// Slug is idempotent: Slug(Slug(x)) == Slug(x).
func Slug(s string) string {
	lower := strings.ToLower(s)
	collapsed := nonAlphaNumRe.ReplaceAllString(lower, "-")
	trimmed := strings.Trim(collapsed, "-")
	if len(trimmed) > maxSlugLen {
		trimmed = trimmed[:maxSlugLen]
		trimmed = strings.Trim(trimmed, "-")
	}
	return trimmed
}

// base36 renders n in base 36, lowercase.
func base36(n int64) string {
	return strconv.FormatInt(n, 36)
}

// Nonce returns a fresh nonce: base36(unix-nano timestamp) "-" a
// 4-digit base36 random component. The randomness comes from a uuid
// rather than math/rand so nonces are safe to generate concurrently
// without a shared PRNG.
func Nonce(now time.Time) string {
	ts := base36(now.UnixNano())
	u := uuid.New()
	// Fold the uuid's bytes down to a small integer, then render in
	// base36 and take 4 digits.
	var r uint32
	for _, b := range u[:] {
		r = r*31 + uint32(b)
	}
	rnd := strconv.FormatUint(uint64(r), 36)
	if len(rnd) > 4 {
		rnd = rnd[len(rnd)-4:]
	}
	return ts + "-" + rnd
}

// TaskBranch returns the task branch name: mh/task/{slug(title)}.
func TaskBranch(title string) string {
	return "mh/task/" + Slug(title)
}

// AgentBranch returns the agent branch name:
// mh/ex/{runId}/[{agentId}/]{slug(title)}[-{nonce}].
func AgentBranch(runID, agentID, title, nonce string) string {
	b := "mh/ex/" + runID + "/"
	if agentID != "" {
		b += agentID + "/"
	}
	b += Slug(title)
	if nonce != "" {
		b += "-" + nonce
	}
	return b
}

// IntegrationBranch returns the per-group integration branch name:
// mh/int/group-{N}.
func IntegrationBranch(group int) string {
	return fmt.Sprintf("mh/int/group-%d", group)
}

// StashIdentifier is the reserved autostash message.
const StashIdentifier = "mh-autostash"

// newLayoutRe matches the new worktree root layout:
// {workDir}/.milhouse/work/worktrees/{runId}-{taskId}.
var newLayoutRe = regexp.MustCompile(`\.milhouse/work/worktrees/[^/]+$`)

// legacyFlatRe matches the legacy flat layout: {workDir}/.milhouse-worktrees/...
var legacyFlatRe = regexp.MustCompile(`\.milhouse-worktrees/`)

// legacyRunsRe matches the legacy per-run layout:
// {workDir}/.milhouse/runs/{id}/worktrees/{taskId}.
var legacyRunsRe = regexp.MustCompile(`\.milhouse/runs/[^/]+/worktrees/[^/]+$`)

// IsManaged reports whether path matches the new worktree layout or
// either legacy layout. Managed detection decides ownership for
// cleanup: IsManaged(WorktreePath(w,r,t)) holds for any non-empty
// w,r,t.
func IsManaged(path string) bool {
	cleaned := filepath.ToSlash(path)
	return newLayoutRe.MatchString(cleaned) ||
		legacyFlatRe.MatchString(cleaned) ||
		legacyRunsRe.MatchString(cleaned)
}

// IsLegacy reports whether path matches one of the two legacy layouts
// specifically (not the new layout). Legacy layouts are recognized,
// listed, and cleaned up, never created.
func IsLegacy(path string) bool {
	cleaned := filepath.ToSlash(path)
	return legacyFlatRe.MatchString(cleaned) || legacyRunsRe.MatchString(cleaned)
}

// Root returns the new-layout worktree root for workDir:
// {workDir}/.milhouse/work/worktrees/.
func Root(workDir string) string {
	return filepath.Join(workDir, ".milhouse", "work", "worktrees")
}

// WorktreePath returns the new-layout per-worktree directory:
// {workDir}/.milhouse/work/worktrees/{runId}-{worktreeId}.
func WorktreePath(workDir, runID, worktreeID string) string {
	return filepath.Join(Root(workDir), runID+"-"+worktreeID)
}

// MergeScratchRoot returns the root for merge-scratch worktrees:
// {workDir}/.milhouse/runs/{runId}/merge-worktrees/.
func MergeScratchRoot(workDir, runID string) string {
	return filepath.Join(workDir, ".milhouse", "runs", runID, "merge-worktrees")
}

// MergeScratchPath returns a unique merge-scratch worktree path:
// .milhouse/runs/{runId}/merge-worktrees/merge-{ts}-{rand}.
func MergeScratchPath(workDir, runID string, now time.Time) string {
	return filepath.Join(MergeScratchRoot(workDir, runID), "merge-"+Nonce(now))
}

// LegacyRunsDir returns the legacy per-run worktrees directory:
// {workDir}/.milhouse/runs/{runId}/worktrees/.
func LegacyRunsDir(workDir, runID string) string {
	return filepath.Join(workDir, ".milhouse", "runs", runID, "worktrees")
}

// LegacyFlatDir returns the legacy flat worktrees directory:
// {workDir}/.milhouse-worktrees/.
func LegacyFlatDir(workDir string) string {
	return filepath.Join(workDir, ".milhouse-worktrees")
}
