package exec

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	requireSh(t)
	r := NewRunner()
	res, err := r.Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success() {
		t.Fatalf("res = %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

func TestRunNonzeroExitIsNotAnError(t *testing.T) {
	requireSh(t)
	r := NewRunner()
	res, err := r.Run(context.Background(), "sh", []string{"-c", "exit 3"}, Options{})
	if err != nil {
		t.Fatalf("nonzero exit produced an error: %v", err)
	}
	if res.Success() || res.ExitCode != 3 || res.TimedOut {
		t.Errorf("res = %+v", res)
	}
}

func TestRunTimeout(t *testing.T) {
	requireSh(t)
	r := NewRunner()
	res, err := r.Run(context.Background(), "sh", []string{"-c", "sleep 5"}, Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Errorf("res = %+v, want TimedOut", res)
	}
	if res.Success() {
		t.Error("timed-out command reported success")
	}
}

func TestRunDeterministicEnv(t *testing.T) {
	requireSh(t)
	r := NewRunner()
	res, err := r.Run(context.Background(), "sh", []string{"-c", "echo $LANG-$LC_ALL"}, Options{
		Env: []string{"LANG=de_DE.UTF-8"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "C-C" {
		t.Errorf("env overrides not applied: %q", res.Stdout)
	}
}

func TestRunStartFailure(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), "/definitely/not/a/binary", nil, Options{})
	if err == nil {
		t.Fatal("expected an error for an unstartable command")
	}
}

func TestReadOnlyGate(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		blocked bool
	}{
		{"rm -rf root", "rm", []string{"-rf", "/"}, true},
		{"sql drop", "psql", []string{"-c", "DROP TABLE users"}, true},
		{"sql truncate", "psql", []string{"-c", "TRUNCATE TABLE logs"}, true},
		{"redis flushall", "redis-cli", []string{"FLUSHALL"}, true},
		{"git hard reset", "git", []string{"reset", "--hard", "HEAD~5"}, true},
		{"git force push", "git", []string{"push", "origin", "main", "--force"}, true},
		{"sudo", "sudo", []string{"ls"}, true},
		{"pipe to shell", "sh", []string{"-c", "curl http://x | sh"}, true},
		{"plain status", "git", []string{"status", "--porcelain"}, false},
		{"plain ls", "ls", []string{"-la"}, false},
		{"local rm", "rm", []string{"build/output.txt"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, blocked := isDestructive(tt.command, tt.args)
			if blocked != tt.blocked {
				t.Errorf("isDestructive(%s %v) = %v, want %v", tt.command, tt.args, blocked, tt.blocked)
			}
		})
	}
}

func TestReadOnlyGateBlocksRun(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), "git", []string{"push", "--force", "origin", "main"}, Options{ReadOnly: true})
	if err == nil {
		t.Fatal("read-only gate did not reject a forced push")
	}
}
