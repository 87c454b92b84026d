package vcs

import (
	"regexp"
	"strconv"
	"strings"
)

// Every parser in this file must be total:
// ill-formed or empty input yields an empty result, never a panic.

// StatusEntry is a single record from `status --porcelain`.
type StatusEntry struct {
	Index     byte
	Worktree  byte
	Path      string
	OrigPath  string // set when the line is a rename "ORIG -> NEW"
}

// Conflicted reports whether this entry represents a merge conflict:
// either status char is 'U', or the pair is "DD"/"AA".
func (e StatusEntry) Conflicted() bool {
	if e.Index == 'U' || e.Worktree == 'U' {
		return true
	}
	pair := string([]byte{e.Index, e.Worktree})
	return pair == "DD" || pair == "AA"
}

// ParseStatusPorcelain parses `git status --porcelain` output.
func ParseStatusPorcelain(output string) []StatusEntry {
	var entries []StatusEntry
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		index := line[0]
		worktree := line[1]
		rest := line[3:]

		path := rest
		orig := ""
		if idx := strings.Index(rest, " -> "); idx >= 0 {
			orig = rest[:idx]
			path = rest[idx+4:]
		}
		if path == "" {
			continue
		}
		entries = append(entries, StatusEntry{
			Index:    index,
			Worktree: worktree,
			Path:     path,
			OrigPath: orig,
		})
	}
	return entries
}

// WorktreeEntry is a single record from `worktree list --porcelain`.
type WorktreeEntry struct {
	Path     string
	Head     string
	Branch   string
	Detached bool
	Bare     bool
}

// ParseWorktreeListPorcelain parses blank-line-separated worktree
// blocks, stripping the refs/heads/ prefix from branch names.
func ParseWorktreeListPorcelain(output string) []WorktreeEntry {
	var entries []WorktreeEntry
	var cur *WorktreeEntry

	flush := func() {
		if cur != nil && cur.Path != "" {
			entries = append(entries, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		if cur == nil {
			cur = &WorktreeEntry{}
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "detached":
			cur.Detached = true
		case line == "bare":
			cur.Bare = true
		}
	}
	flush()
	return entries
}

// BranchEntry is a single record from `branch --list -v`.
type BranchEntry struct {
	Name    string
	Current bool
	Commit  string
}

var commitHexRe = regexp.MustCompile(`^[0-9a-fA-F]{7,}$`)

// ParseBranchListVerbose parses `branch --list -v` output. The current
// branch is marked with a leading "* "; the commit hash is the first
// token after the branch name if it looks like 7+ hex chars.
func ParseBranchListVerbose(output string) []BranchEntry {
	var entries []BranchEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		current := false
		if strings.HasPrefix(line, "* ") {
			current = true
			line = line[2:]
		} else if strings.HasPrefix(line, "  ") {
			line = line[2:]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if strings.HasPrefix(name, "(") {
			// detached HEAD marker, e.g. "(HEAD detached at abcdef)"
			continue
		}
		commit := ""
		if len(fields) > 1 && commitHexRe.MatchString(fields[1]) {
			commit = fields[1]
		}
		entries = append(entries, BranchEntry{Name: name, Current: current, Commit: commit})
	}
	return entries
}

// ParseDiffNameOnly parses `diff --name-only` output: trim, drop blanks.
func ParseDiffNameOnly(output string) []string {
	var files []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files
}

// LogEntry is a single record from `log --oneline`.
type LogEntry struct {
	Hash    string
	Message string
}

var logOnelineRe = regexp.MustCompile(`^([a-fA-F0-9]+) (.*)$`)

// ParseLogOneline parses `log --oneline` output.
func ParseLogOneline(output string) []LogEntry {
	var entries []LogEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := logOnelineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		entries = append(entries, LogEntry{Hash: strings.ToLower(m[1]), Message: m[2]})
	}
	return entries
}

// NumstatEntry is a single record from `diff --numstat`.
type NumstatEntry struct {
	File         string
	Added        int
	Removed      int
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	OriginalPath string
	IsBinary     bool
}

var renameBraceRe = regexp.MustCompile(`^(.*)\{(.*) => (.*)\}(.*)$`)

// ParseDiffNumstat parses `diff --numstat` output. `-\t-\tFILE` marks a
// binary file; both "{a => b}" and "a => b" rename forms are
// recognized.
func ParseDiffNumstat(output string) []NumstatEntry {
	var entries []NumstatEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		addedStr, removedStr, file := parts[0], parts[1], parts[2]

		entry := NumstatEntry{File: file}
		if addedStr == "-" && removedStr == "-" {
			entry.IsBinary = true
		} else {
			entry.Added, _ = strconv.Atoi(addedStr)
			entry.Removed, _ = strconv.Atoi(removedStr)
		}

		if m := renameBraceRe.FindStringSubmatch(file); m != nil {
			prefix, from, to, suffix := m[1], m[2], m[3], m[4]
			entry.IsRenamed = true
			entry.OriginalPath = prefix + from + suffix
			entry.File = prefix + to + suffix
		} else if strings.Contains(file, " => ") {
			segs := strings.SplitN(file, " => ", 2)
			entry.IsRenamed = true
			entry.OriginalPath = strings.TrimSpace(segs[0])
			entry.File = strings.TrimSpace(segs[1])
		}

		entries = append(entries, entry)
	}
	return entries
}
