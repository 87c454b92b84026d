package scheduler

import (
	"testing"

	"github.com/eizorerad/milhouse-sub002/internal/task"
)

func intPtr(n int) *int { return &n }

func TestSelectStrategy(t *testing.T) {
	dep := func(ids ...string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, id := range ids {
			m[id] = struct{}{}
		}
		return m
	}

	tests := []struct {
		name  string
		tasks []task.Task
		opts  task.ExecutionOptions
		want  StrategyName
	}{
		{
			name:  "parallel disabled",
			tasks: []task.Task{{ID: "t1"}, {ID: "t2"}},
			opts:  task.ExecutionOptions{Parallel: false, BranchPerTask: true},
			want:  Sequential,
		},
		{
			name:  "no branch per task",
			tasks: []task.Task{{ID: "t1"}, {ID: "t2"}},
			opts:  task.ExecutionOptions{Parallel: true, BranchPerTask: false},
			want:  Sequential,
		},
		{
			name: "explicit parallel group wins",
			tasks: []task.Task{
				{ID: "t1", Metadata: task.Metadata{ParallelGroup: intPtr(1), Dependencies: dep("t0")}},
			},
			opts: task.ExecutionOptions{Parallel: true, BranchPerTask: true},
			want: ParallelWorktree,
		},
		{
			name:  "multiple independent tasks",
			tasks: []task.Task{{ID: "t1"}, {ID: "t2"}},
			opts:  task.ExecutionOptions{Parallel: true, BranchPerTask: true},
			want:  ParallelWorktree,
		},
		{
			name: "every task has dependencies",
			tasks: []task.Task{
				{ID: "t1", Metadata: task.Metadata{Dependencies: dep("t0")}},
				{ID: "t2", Metadata: task.Metadata{Dependencies: dep("t1")}},
			},
			opts: task.ExecutionOptions{Parallel: true, BranchPerTask: true},
			want: Sequential,
		},
		{
			name:  "exactly one task",
			tasks: []task.Task{{ID: "t1"}},
			opts:  task.ExecutionOptions{Parallel: true, BranchPerTask: true},
			want:  Sequential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := SelectStrategy(tt.tasks, tt.opts)
			if sel.Strategy != tt.want {
				t.Errorf("SelectStrategy() = %s (%s), want %s", sel.Strategy, sel.Rationale, tt.want)
			}
			if sel.Rationale == "" {
				t.Error("selection has no rationale")
			}
		})
	}
}

func TestGroupTasksByWave(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", Metadata: task.Metadata{ParallelGroup: intPtr(2)}},
		{ID: "b"},
		{ID: "c", Metadata: task.Metadata{ParallelGroup: intPtr(1)}},
		{ID: "d", Metadata: task.Metadata{ParallelGroup: intPtr(2)}},
	}
	groups := GroupTasksByWave(tasks)
	want := []int{0, 1, 2}
	if len(groups) != len(want) {
		t.Fatalf("groups = %v, want %v", groups, want)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("groups = %v, want %v", groups, want)
		}
	}
	if got := tasksInGroup(tasks, 2); len(got) != 2 {
		t.Errorf("group 2 has %d tasks, want 2", len(got))
	}
}
