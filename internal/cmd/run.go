package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eizorerad/milhouse-sub002/internal/agent"
	"github.com/eizorerad/milhouse-sub002/internal/config"
	"github.com/eizorerad/milhouse-sub002/internal/events"
	"github.com/eizorerad/milhouse-sub002/internal/orchlog"
	"github.com/eizorerad/milhouse-sub002/internal/pr"
	"github.com/eizorerad/milhouse-sub002/internal/scheduler"
	"github.com/eizorerad/milhouse-sub002/internal/style"
	"github.com/eizorerad/milhouse-sub002/internal/task"
)

var runCmd = &cobra.Command{
	Use:     "run <tasks.json>",
	GroupID: GroupWork,
	Short:   "Execute a batch of tasks through the agent orchestrator",
	Long: `Run loads a task batch from a JSON file, selects an execution
strategy (sequential or parallel-worktree), dispatches each task to the
configured agent, and merges the resulting branches into the base
branch.

The task file is a JSON array:

  [
    {"id": "T1", "title": "Fix login bug", "priority": "high"},
    {"id": "T2", "title": "Add logout", "depends_on": ["T1"], "parallel_group": 1}
  ]

Persisted defaults are read from .milhouse/config.json when present;
flags override them.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runEngine        string
	runAgentCmd      string
	runParallel      bool
	runBranchPerTask bool
	runBaseBranch    string
	runMaxWorkers    int
	runDryRun        bool
	runSkipMerge     bool
	runFailFast      bool
	runSkipTests     bool
	runSkipLint      bool
	runTaskTimeout   time.Duration
	runMaxRetries    int
	runPublish       bool
)

func init() {
	runCmd.Flags().StringVar(&runEngine, "engine", "claude", "Agent engine to invoke")
	runCmd.Flags().StringVar(&runAgentCmd, "agent-cmd", "", "Agent binary to execute (defaults to the engine name)")
	runCmd.Flags().BoolVar(&runParallel, "parallel", true, "Allow parallel execution")
	runCmd.Flags().BoolVar(&runBranchPerTask, "branch-per-task", true, "Give each task its own branch and worktree")
	runCmd.Flags().StringVar(&runBaseBranch, "base-branch", "main", "Branch to merge results into")
	runCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 4, "Maximum concurrent tasks within a wave")
	runCmd.Flags().BoolVarP(&runDryRun, "dry-run", "n", false, "Record synthetic successes without invoking the agent")
	runCmd.Flags().BoolVar(&runSkipMerge, "skip-merge", false, "Leave agent branches unmerged")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Stop after the first failed task or wave")
	runCmd.Flags().BoolVar(&runSkipTests, "skip-tests", false, "Tell the agent to skip the test suite")
	runCmd.Flags().BoolVar(&runSkipLint, "skip-lint", false, "Tell the agent to skip the linter")
	runCmd.Flags().DurationVar(&runTaskTimeout, "task-timeout", 66*time.Minute, "Per-task agent timeout")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 2, "Retry count stored in the run options (the run's merge pass tries each branch once)")
	runCmd.Flags().BoolVar(&runPublish, "publish", false, "Push surviving branches and open PRs after the run")

	rootCmd.AddCommand(runCmd)
}

// taskSpec is the on-disk task schema accepted by `milhouse run`.
type taskSpec struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Source        string   `json:"source,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	ParallelGroup *int     `json:"parallel_group,omitempty"`
}

func loadTaskFile(path string) ([]task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	var specs []taskSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing task file: %w", err)
	}
	if len(specs) == 0 {
		return nil, errors.New("task file contains no tasks")
	}

	tasks := make([]task.Task, 0, len(specs))
	for i, s := range specs {
		if s.Title == "" {
			return nil, fmt.Errorf("task %d has no title", i)
		}
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		priority := task.Priority(s.Priority)
		if priority == "" {
			priority = task.PriorityMedium
		}
		var deps map[string]struct{}
		if len(s.DependsOn) > 0 {
			deps = make(map[string]struct{}, len(s.DependsOn))
			for _, d := range s.DependsOn {
				deps[d] = struct{}{}
			}
		}
		tasks = append(tasks, task.Task{
			ID:          id,
			Title:       s.Title,
			Description: s.Description,
			Status:      task.StatusPending,
			Priority:    priority,
			Metadata: task.Metadata{
				Source:        s.Source,
				Dependencies:  deps,
				Labels:        s.Labels,
				ParallelGroup: s.ParallelGroup,
			},
		})
	}
	return tasks, nil
}

func buildOptions(cmd *cobra.Command, workDir string) task.ExecutionOptions {
	set := func(name string) bool { return cmd.Flags().Changed(name) }

	var opts task.ExecutionOptions
	if cfg, err := config.LoadRunConfig(config.DefaultPath(workDir)); err == nil {
		opts = cfg.Options()
		if !set("engine") && cfg.Engine != "" {
			runEngine = cfg.Engine
		}
	} else {
		opts = task.NewExecutionOptions()
		opts.Parallel = runParallel
		opts.BranchPerTask = runBranchPerTask
	}

	// Flags the operator passed explicitly win over persisted defaults.
	if set("parallel") {
		opts.Parallel = runParallel
	}
	if set("branch-per-task") {
		opts.BranchPerTask = runBranchPerTask
	}
	if set("base-branch") {
		opts.BaseBranch = runBaseBranch
	}
	if set("max-workers") {
		opts.MaxWorkers = runMaxWorkers
	}
	if set("task-timeout") {
		opts.TaskTimeout = runTaskTimeout
	}
	if set("max-retries") {
		opts.MaxRetries = runMaxRetries
	}
	opts.DryRun = opts.DryRun || runDryRun
	opts.SkipMerge = opts.SkipMerge || runSkipMerge
	opts.FailFast = opts.FailFast || runFailFast
	opts.SkipTests = opts.SkipTests || runSkipTests
	opts.SkipLint = opts.SkipLint || runSkipLint

	if opts.BaseBranch == "" {
		opts.BaseBranch = runBaseBranch
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = runMaxWorkers
	}
	return opts
}

func runRun(cmd *cobra.Command, args []string) error {
	tasks, err := loadTaskFile(args[0])
	if err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	opts := buildOptions(cmd, workDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.New()
	subscribeProgress(bus)

	log := orchlog.New("milhouse", os.Stderr)

	agentCmd := runAgentCmd
	if agentCmd == "" {
		agentCmd = runEngine
	}
	runner := agent.NewSubprocessRunner(agentCmd, nil, opts.TaskTimeout)

	registry := scheduler.NewDefaultRegistry(workDir, runner, bus, log)
	orch := scheduler.NewOrchestrator(registry, bus, log)

	ectx := task.NewExecutionContext(workDir, runEngine, opts, task.Hooks{})

	result, err := orch.Run(ctx, tasks, ectx)
	printSummary(result, tasks)
	if err != nil {
		return err
	}

	if runPublish {
		publishBranches(ctx, workDir, result, tasks, opts.BaseBranch)
	}

	if !result.AllSucceeded {
		return fmt.Errorf("%d of %d task(s) failed", result.TasksFailed, result.TasksExecuted)
	}
	return nil
}

func subscribeProgress(bus *events.Bus) {
	bus.Subscribe(events.TopicTaskStart, func(ev events.Event) {
		fmt.Printf("%s %s %v\n", style.Dim.Render("→"), ev.TaskID, ev.Payload["title"])
	})
	bus.Subscribe(events.TopicTaskComplete, func(ev events.Event) {
		fmt.Printf("%s %s\n", style.Success.Render("✓"), ev.TaskID)
	})
	bus.Subscribe(events.TopicTaskError, func(ev events.Event) {
		fmt.Printf("%s %s: %v\n", style.Warning.Render("✗"), ev.TaskID, ev.Payload["error"])
	})
	bus.Subscribe(events.TopicGitMergeConflict, func(ev events.Event) {
		fmt.Printf("%s merge conflict: %v\n", style.Warning.Render("⚠"), ev.Payload["files"])
	})
}

func printSummary(result task.RunResult, tasks []task.Task) {
	titles := make(map[string]string, len(tasks))
	for _, t := range tasks {
		titles[t.ID] = t.Title
	}

	fmt.Printf("\n%s\n", style.Bold.Render("Run summary"))
	for _, r := range result.Results {
		mark := style.Success.Render("✓")
		note := ""
		if !r.Success {
			mark = style.Warning.Render("✗")
			if r.Error != nil {
				note = "  " + style.Dim.Render(r.Error.Error())
			}
		}
		fmt.Printf("  %s %-12s %-40s %8s%s\n", mark, r.TaskID,
			truncate(titles[r.TaskID], 40), r.Duration.Round(time.Second), note)
	}

	status := "Failed"
	if result.AllSucceeded {
		status = "Completed"
	}
	fmt.Printf("\n%s: %d executed, %d completed, %d failed in %s\n",
		task.TitleCase(status), result.TasksExecuted, result.TasksCompleted,
		result.TasksFailed, result.TotalDuration.Round(time.Second))
}

func publishBranches(ctx context.Context, workDir string, result task.RunResult, tasks []task.Task, base string) {
	titles := make(map[string]string, len(tasks))
	for _, t := range tasks {
		titles[t.ID] = t.Title
	}

	publisher := pr.NewPublisher(workDir)
	if !publisher.Authenticated(ctx) {
		fmt.Fprintln(os.Stderr, "gh is not authenticated; skipping PR creation")
		return
	}
	for _, r := range result.Results {
		if !r.Success || r.Branch == "" {
			continue
		}
		if err := publisher.Push(ctx, r.Branch); err != nil {
			fmt.Fprintf(os.Stderr, "push %s: %v\n", r.Branch, err)
			continue
		}
		url, err := publisher.Create(ctx, pr.CreateOptions{
			Title: titles[r.TaskID],
			Body:  fmt.Sprintf("Automated change for task %s.", r.TaskID),
			Base:  base,
			Head:  r.Branch,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "pr create %s: %v\n", r.Branch, err)
			continue
		}
		fmt.Printf("%s %s\n", style.Success.Render("PR"), url)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
