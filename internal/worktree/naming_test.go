package worktree

import "testing"

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Fix login":        "fix-login",
		"Fix: Login Bug!":  "fix-login-bug",
		"  leading/trail  ": "leading-trail",
		"":                 "",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugIdempotent(t *testing.T) {
	inputs := []string{"Fix: Login Bug!", "already-a-slug", "", "UPPER CASE!!"}
	for _, in := range inputs {
		once := Slug(in)
		twice := Slug(once)
		if once != twice {
			t.Errorf("Slug not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestSlugMaxLength(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := Slug(long)
	if len(got) > maxSlugLen {
		t.Fatalf("slug too long: %d chars", len(got))
	}
}

func TestAgentBranchDeterministic(t *testing.T) {
	got := AgentBranch("run-abc", "a1", "Fix: Login Bug!", "xyz")
	want := "mh/ex/run-abc/a1/fix-login-bug-xyz"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAgentBranchNoAgentNoNonce(t *testing.T) {
	got := AgentBranch("run-abc", "", "Fix login", "")
	want := "mh/ex/run-abc/fix-login"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTaskBranch(t *testing.T) {
	if got := TaskBranch("Fix login"); got != "mh/task/fix-login" {
		t.Fatalf("got %q", got)
	}
}

func TestIntegrationBranch(t *testing.T) {
	if got := IntegrationBranch(2); got != "mh/int/group-2" {
		t.Fatalf("got %q", got)
	}
}

func TestIsManagedNewLayout(t *testing.T) {
	p := WorktreePath("/repo", "run-1", "task-1")
	if !IsManaged(p) {
		t.Fatalf("expected %q to be managed", p)
	}
}

func TestIsManagedLegacyLayouts(t *testing.T) {
	if !IsManaged("/repo/.milhouse-worktrees/task-1") {
		t.Fatal("expected legacy flat layout to be managed")
	}
	if !IsManaged("/repo/.milhouse/runs/run-1/worktrees/task-1") {
		t.Fatal("expected legacy runs layout to be managed")
	}
	if IsManaged("/repo/some/other/path") {
		t.Fatal("expected unrelated path to be unmanaged")
	}
}

func TestIsManagedNonEmptyArgsAlwaysManaged(t *testing.T) {
	// Any path this package generates must be recognized as managed.
	cases := [][3]string{
		{"/a", "r1", "t1"},
		{"/work/dir", "run-xyz", "task-42"},
	}
	for _, c := range cases {
		p := WorktreePath(c[0], c[1], c[2])
		if !IsManaged(p) {
			t.Errorf("IsManaged(%q) = false, want true", p)
		}
	}
}
