package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/events"
	"github.com/eizorerad/milhouse-sub002/internal/merge"
	"github.com/eizorerad/milhouse-sub002/internal/task"
	"github.com/eizorerad/milhouse-sub002/internal/worktree"
)

// sequence records cross-fake call ordering so tests can assert the
// merge-before-cleanup invariant without real git.
type sequence struct {
	mu      sync.Mutex
	entries []string
}

func (s *sequence) add(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *sequence) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.entries...)
}

type fakeWorktrees struct {
	seq  *sequence
	mu   sync.Mutex
	made []worktree.Record
}

func (f *fakeWorktrees) CreateWorktree(ctx context.Context, opts worktree.CreateWorktreeOptions) (worktree.Record, error) {
	id := worktree.Slug(opts.TaskTitle)
	rec := worktree.Record{
		Path:       filepath.Join("/tmp", ".milhouse", "work", "worktrees", opts.RunID+"-"+id),
		Branch:     worktree.AgentBranch(opts.RunID, "", opts.TaskTitle, "n0"),
		WorktreeID: id,
		RunID:      opts.RunID,
	}
	f.mu.Lock()
	f.made = append(f.made, rec)
	f.mu.Unlock()
	f.seq.add("create:" + id)
	return rec, nil
}

func (f *fakeWorktrees) CleanupWorktree(ctx context.Context, path string, force bool) (worktree.CleanupResult, error) {
	f.seq.add("cleanup:" + filepath.Base(path))
	return worktree.CleanupResult{}, nil
}

type fakeMerger struct {
	seq      *sequence
	conflict map[string][]string // branch -> conflicted files
	mu       sync.Mutex
	aborted  int
}

func (f *fakeMerger) MergeAgentBranch(ctx context.Context, source, target, message string, allowFastForward bool) (merge.Result, error) {
	f.seq.add("merge:" + source)
	if files, ok := f.conflict[source]; ok {
		return merge.Result{HasConflicts: true, ConflictedFiles: files}, nil
	}
	return merge.Result{Success: true, Commit: "abc1234"}, nil
}

func (f *fakeMerger) AbortMerge(ctx context.Context) {
	f.mu.Lock()
	f.aborted++
	f.mu.Unlock()
}

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeDeleter) DeleteLocalBranch(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func newParallelFixture(runner *fakeRunner, conflicts map[string][]string) (*ParallelWorktreeStrategy, *events.Bus, *sequence, *fakeMerger, *fakeDeleter) {
	seq := &sequence{}
	bus := events.New()
	wt := &fakeWorktrees{seq: seq}
	mg := &fakeMerger{seq: seq, conflict: conflicts}
	del := &fakeDeleter{}
	return NewParallelWorktree(runner, wt, del, mg, bus, quietLog()), bus, seq, mg, del
}

func parallelOptions() task.ExecutionOptions {
	opts := task.NewExecutionOptions()
	opts.Parallel = true
	opts.BranchPerTask = true
	return opts
}

// A later parallelGroup must not start until every task in the earlier
// group has terminated.
func TestParallelGroupOrdering(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	p, bus, _, _, _ := newParallelFixture(runner, nil)
	evlog := watchTaskEvents(bus)

	opts := parallelOptions()
	opts.SkipMerge = true
	ectx := seqContext(opts, task.Hooks{})

	tasks := []task.Task{
		{ID: "T1", Title: "one", Metadata: task.Metadata{ParallelGroup: intPtr(0)}},
		{ID: "T2", Title: "two", Metadata: task.Metadata{ParallelGroup: intPtr(0)}},
		{ID: "T3", Title: "three", Metadata: task.Metadata{ParallelGroup: intPtr(1)}},
	}
	results, err := p.Execute(context.Background(), tasks, ectx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}

	t3Start := evlog.indexOf("task:start T3")
	for _, done := range []string{"task:complete T1", "task:complete T2"} {
		if i := evlog.indexOf(done); i == -1 || i > t3Start {
			t.Errorf("%s at %d, task:start T3 at %d; group 1 started before group 0 finished\n%v",
				done, i, t3Start, evlog.all())
		}
	}
}

// In-flight tasks never exceed MaxWorkers.
func TestParallelBoundedConcurrency(t *testing.T) {
	runner := &fakeRunner{delay: 15 * time.Millisecond}
	p, _, _, _, _ := newParallelFixture(runner, nil)

	opts := parallelOptions()
	opts.MaxWorkers = 2
	opts.SkipMerge = true
	ectx := seqContext(opts, task.Hooks{})

	var tasks []task.Task
	for _, id := range []string{"T1", "T2", "T3", "T4", "T5", "T6"} {
		tasks = append(tasks, task.Task{ID: id, Title: strings.ToLower(id)})
	}
	if _, err := p.Execute(context.Background(), tasks, ectx); err != nil {
		t.Fatal(err)
	}

	runner.mu.Lock()
	max := runner.maxInFlight
	runner.mu.Unlock()
	if max > 2 {
		t.Errorf("max in-flight tasks = %d, want <= 2", max)
	}
	if len(runner.calls()) != 6 {
		t.Errorf("executed %d tasks, want 6", len(runner.calls()))
	}
}

// All merge attempts for a wave complete before any of that wave's
// worktrees is removed.
func TestParallelMergeBeforeCleanup(t *testing.T) {
	runner := &fakeRunner{}
	p, _, seq, _, del := newParallelFixture(runner, nil)

	opts := parallelOptions()
	ectx := seqContext(opts, task.Hooks{})

	tasks := []task.Task{
		{ID: "T1", Title: "alpha"},
		{ID: "T2", Title: "beta"},
	}
	results, err := p.Execute(context.Background(), tasks, ectx)
	if err != nil {
		t.Fatal(err)
	}

	lastMerge, firstCleanup := -1, -1
	for i, e := range seq.all() {
		if strings.HasPrefix(e, "merge:") && i > lastMerge {
			lastMerge = i
		}
		if strings.HasPrefix(e, "cleanup:") && firstCleanup == -1 {
			firstCleanup = i
		}
	}
	if lastMerge == -1 || firstCleanup == -1 {
		t.Fatalf("sequence missing merges or cleanups: %v", seq.all())
	}
	if lastMerge > firstCleanup {
		t.Errorf("cleanup at %d before final merge at %d:\n%v", firstCleanup, lastMerge, seq.all())
	}

	// Merged branches are deleted locally; both merges succeeded here.
	if len(del.deleted) != 2 {
		t.Errorf("deleted branches = %v, want 2", del.deleted)
	}
	for _, r := range results {
		if !r.Success {
			t.Errorf("result %+v, want success", r)
		}
	}
}

// A conflicted merge is surfaced on the task result, the in-progress
// merge is aborted, and the branch is not deleted.
func TestParallelMergeConflict(t *testing.T) {
	runner := &fakeRunner{}
	conflictBranch := worktree.AgentBranch("run-test", "", "alpha", "n0")
	p, _, _, mg, del := newParallelFixture(runner, map[string][]string{
		conflictBranch: {"shared.txt"},
	})

	var conflictFiles []string
	hooks := task.Hooks{
		OnMergeConflict: func(branch, target string, files []string) { conflictFiles = files },
	}
	ectx := seqContext(parallelOptions(), hooks)

	results, err := p.Execute(context.Background(), []task.Task{{ID: "T1", Title: "alpha"}}, ectx)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Success {
		t.Error("conflicted merge reported as success")
	}
	if results[0].Error == nil || !strings.Contains(results[0].Error.Error(), "conflicted") {
		t.Errorf("error = %v", results[0].Error)
	}
	if mg.aborted != 1 {
		t.Errorf("AbortMerge called %d times, want 1", mg.aborted)
	}
	if len(del.deleted) != 0 {
		t.Errorf("conflicted branch deleted: %v", del.deleted)
	}
	if len(conflictFiles) != 1 || conflictFiles[0] != "shared.txt" {
		t.Errorf("onMergeConflict files = %v", conflictFiles)
	}
}

// FailFast stops before the next group when a wave had a failure.
func TestParallelFailFastStopsNextGroup(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"T1": true}}
	p, bus, _, _, _ := newParallelFixture(runner, nil)
	evlog := watchTaskEvents(bus)

	opts := parallelOptions()
	opts.FailFast = true
	opts.SkipMerge = true
	ectx := seqContext(opts, task.Hooks{})

	tasks := []task.Task{
		{ID: "T1", Title: "boom", Metadata: task.Metadata{ParallelGroup: intPtr(0)}},
		{ID: "T2", Title: "later", Metadata: task.Metadata{ParallelGroup: intPtr(1)}},
	}
	results, err := p.Execute(context.Background(), tasks, ectx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("results = %+v, want single failure", results)
	}
	if evlog.indexOf("task:start T2") != -1 {
		t.Error("T2 started despite failFast after a failed group")
	}
}

// Dry run produces synthetic successes without worktrees or agent calls.
func TestParallelDryRun(t *testing.T) {
	runner := &fakeRunner{}
	p, _, seq, _, _ := newParallelFixture(runner, nil)

	opts := parallelOptions()
	opts.DryRun = true
	ectx := seqContext(opts, task.Hooks{})

	results, err := p.Execute(context.Background(),
		[]task.Task{{ID: "T1", Title: "a"}, {ID: "T2", Title: "b"}}, ectx)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if !r.Success {
			t.Errorf("dry-run result %+v", r)
		}
	}
	if len(runner.calls()) != 0 {
		t.Errorf("agent invoked in dry run: %v", runner.calls())
	}
	if entries := seq.all(); len(entries) != 0 {
		t.Errorf("worktree/merge activity in dry run: %v", entries)
	}
}

func TestOrchestratorRunSummary(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"T2": true}}
	bus := events.New()

	reg := NewRegistry()
	reg.Register(Sequential, NewSequential(runner, bus, quietLog()))

	var pipelineEvents []string
	bus.Subscribe(events.TopicPipelineStart, func(ev events.Event) {
		pipelineEvents = append(pipelineEvents, string(ev.Topic))
	})
	bus.Subscribe(events.TopicPipelineComplete, func(ev events.Event) {
		pipelineEvents = append(pipelineEvents, string(ev.Topic))
	})

	o := NewOrchestrator(reg, bus, quietLog())
	opts := task.NewExecutionOptions() // parallel=false -> sequential
	ectx := seqContext(opts, task.Hooks{})

	summary, err := o.Run(context.Background(),
		[]task.Task{{ID: "T1", Title: "a"}, {ID: "T2", Title: "b"}}, ectx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TasksExecuted != 2 || summary.TasksCompleted != 1 || summary.TasksFailed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.AllSucceeded {
		t.Error("AllSucceeded despite a failed task")
	}
	if len(pipelineEvents) != 2 || pipelineEvents[0] != "pipeline:start" || pipelineEvents[1] != "pipeline:complete" {
		t.Errorf("pipeline events = %v", pipelineEvents)
	}
}
