// Package orcherr defines the orchestrator's error taxonomy: a fixed
// set of kinds (not Go types) carried on a single wrapper error shared
// by every layer of the orchestrator.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error kinds from the orchestrator's error
// taxonomy. It is a string enum, not a distinct Go error type, so that
// callers can classify errors with a single switch rather than a chain
// of errors.As checks.
type Kind string

const (
	CommandFailed       Kind = "COMMAND_FAILED"
	CommandTimeout      Kind = "COMMAND_TIMEOUT"
	NotARepository      Kind = "NOT_A_REPOSITORY"
	BranchNotFound      Kind = "BRANCH_NOT_FOUND"
	BranchExists        Kind = "BRANCH_EXISTS"
	BranchLocked        Kind = "BRANCH_LOCKED"
	DirtyWorktree       Kind = "DIRTY_WORKTREE"
	WorktreeNotFound    Kind = "WORKTREE_NOT_FOUND"
	WorktreeExists      Kind = "WORKTREE_EXISTS"
	MergeConflict       Kind = "MERGE_CONFLICT"
	MergeFailed         Kind = "MERGE_FAILED"
	RebaseFailed        Kind = "REBASE_FAILED"
	PushFailed          Kind = "PUSH_FAILED"
	PRCreationFailed    Kind = "PR_CREATION_FAILED"
	UncommittedChanges  Kind = "UNCOMMITTED_CHANGES"
	InvalidArgument     Kind = "INVALID_ARGUMENT"
	Unknown             Kind = "UNKNOWN_ERROR"
)

// Error is the orchestrator's structured error. Every layer (vcs,
// worktree, merge, scheduler) returns *Error rather than ad hoc
// fmt.Errorf values whenever the failure needs to be classified by
// kind higher up the stack.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "createWorktree"
	Command string // underlying command, if any (e.g. "git")
	Args    []string
	Err     error
}

func (e *Error) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s: %s %v: %v", e.Op, e.Command, e.Args, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and wrapped cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap attaches command context (used by internal/vcs when a git
// invocation fails).
func Wrap(kind Kind, op, command string, args []string, err error) *Error {
	return &Error{Kind: kind, Op: op, Command: command, Args: args, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// otherwise returns Unknown.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return Unknown
}
