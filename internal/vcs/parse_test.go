package vcs

import "testing"

func TestParseStatusPorcelainTotality(t *testing.T) {
	cases := []string{"", "\n", "garbage", "xx\n", "M  "}
	for _, c := range cases {
		if got := ParseStatusPorcelain(c); got != nil && len(got) != 0 {
			// not strictly required to be nil, but must not panic and
			// must be empty for ill-formed input.
			if c == "" || c == "\n" {
				t.Errorf("ParseStatusPorcelain(%q) = %v, want empty", c, got)
			}
		}
	}
}

func TestParseStatusPorcelainConflict(t *testing.T) {
	out := "UU conflicted.txt\nAA both-added.txt\nDD both-deleted.txt\n M clean.txt\n"
	entries := ParseStatusPorcelain(out)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for _, e := range entries[:3] {
		if !e.Conflicted() {
			t.Errorf("expected %q to be conflicted", e.Path)
		}
	}
	if entries[3].Conflicted() {
		t.Errorf("expected %q not to be conflicted", entries[3].Path)
	}
}

func TestParseStatusPorcelainRename(t *testing.T) {
	entries := ParseStatusPorcelain("R  old.txt -> new.txt\n")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Path != "new.txt" || entries[0].OrigPath != "old.txt" {
		t.Fatalf("unexpected rename parse: %+v", entries[0])
	}
}

func TestParseWorktreeListPorcelain(t *testing.T) {
	out := "worktree /repo\nHEAD abcdef1234567890\nbranch refs/heads/main\n\n" +
		"worktree /repo/.milhouse/work/worktrees/run-1-abc\nHEAD abcdef1234567890\ndetached\n\n"
	entries := ParseWorktreeListPorcelain(out)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Branch != "main" {
		t.Errorf("expected branch main, got %q", entries[0].Branch)
	}
	if !entries[1].Detached {
		t.Error("expected second entry detached")
	}
}

func TestParseWorktreeListPorcelainEmpty(t *testing.T) {
	if got := ParseWorktreeListPorcelain(""); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestParseBranchListVerbose(t *testing.T) {
	out := "* main                abc1234 Initial commit\n  feature/x           def5678 Some work\n  (HEAD detached at abc1234)\n"
	entries := ParseBranchListVerbose(out)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if !entries[0].Current || entries[0].Name != "main" || entries[0].Commit != "abc1234" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Current {
		t.Errorf("expected second entry not current: %+v", entries[1])
	}
}

func TestParseDiffNameOnly(t *testing.T) {
	got := ParseDiffNameOnly("a.go\n\nb.go\n  \n")
	want := []string{"a.go", "b.go"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseLogOneline(t *testing.T) {
	entries := ParseLogOneline("ABCDEF1 Fix the thing\ndeadbee Another commit\nnotahash\n")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Hash != "abcdef1" || entries[0].Message != "Fix the thing" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestParseDiffNumstat(t *testing.T) {
	out := "3\t1\tfile.go\n-\t-\timage.png\n2\t0\t{old => new}/path.go\n1\t1\told.go => new.go\n"
	entries := ParseDiffNumstat(out)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].Added != 3 || entries[0].Removed != 1 {
		t.Errorf("unexpected numstat: %+v", entries[0])
	}
	if !entries[1].IsBinary {
		t.Errorf("expected binary entry: %+v", entries[1])
	}
	if !entries[2].IsRenamed || entries[2].OriginalPath != "old/path.go" || entries[2].File != "new/path.go" {
		t.Errorf("unexpected brace-rename parse: %+v", entries[2])
	}
	if !entries[3].IsRenamed || entries[3].OriginalPath != "old.go" || entries[3].File != "new.go" {
		t.Errorf("unexpected plain-rename parse: %+v", entries[3])
	}
}

func TestParseDiffNumstatTotality(t *testing.T) {
	for _, c := range []string{"", "\n", "garbage\n", "1\t2\n"} {
		got := ParseDiffNumstat(c)
		if c == "" || c == "\n" {
			if len(got) != 0 {
				t.Errorf("ParseDiffNumstat(%q) = %v, want empty", c, got)
			}
		}
	}
}
