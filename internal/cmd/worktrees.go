package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eizorerad/milhouse-sub002/internal/orchlog"
	"github.com/eizorerad/milhouse-sub002/internal/style"
	"github.com/eizorerad/milhouse-sub002/internal/worktree"
)

var worktreesCmd = &cobra.Command{
	Use:     "worktrees",
	GroupID: GroupMaintenance,
	Short:   "Inspect and clean up managed worktrees",
}

var worktreesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees in this repository",
	RunE:  runWorktreesList,
}

var worktreesCleanForce bool

var worktreesCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove managed worktrees and empty legacy directories",
	Long: `Clean removes every milhouse-managed worktree (current and legacy
layouts) and prunes git's worktree bookkeeping. Worktrees that still
have uncommitted changes are left in place unless --force is given.`,
	RunE: runWorktreesClean,
}

func init() {
	worktreesCleanCmd.Flags().BoolVarP(&worktreesCleanForce, "force", "f", false, "Remove worktrees even with uncommitted changes")
	worktreesCmd.AddCommand(worktreesListCmd, worktreesCleanCmd)
	rootCmd.AddCommand(worktreesCmd)
}

func worktreeService() (*worktree.Service, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return worktree.NewService(workDir, nil, orchlog.New("worktree", os.Stderr)), nil
}

func runWorktreesList(cmd *cobra.Command, args []string) error {
	svc, err := worktreeService()
	if err != nil {
		return err
	}
	entries, err := svc.ListWorktrees(context.Background())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No worktrees.")
		return nil
	}
	for _, e := range entries {
		tag := ""
		if worktree.IsManaged(e.Path) {
			tag = style.Dim.Render(" [managed]")
			if worktree.IsLegacy(e.Path) {
				tag = style.Dim.Render(" [legacy]")
			}
		}
		branch := e.Branch
		if e.Detached {
			branch = "(detached)"
		}
		fmt.Printf("%s  %s%s\n", e.Path, branch, tag)
	}
	return nil
}

func runWorktreesClean(cmd *cobra.Command, args []string) error {
	svc, err := worktreeService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	removed, leftInPlace, err := svc.CleanupAllWorktrees(ctx, worktreesCleanForce)
	if err != nil {
		return err
	}
	legacy, err := svc.CleanupLegacyWorktreeDirectories(ctx)
	if err != nil {
		return err
	}

	for _, p := range removed {
		fmt.Printf("%s removed %s\n", style.Success.Render("✓"), p)
	}
	for _, p := range legacy {
		fmt.Printf("%s removed legacy %s\n", style.Success.Render("✓"), p)
	}
	for _, p := range leftInPlace {
		fmt.Printf("%s left in place (uncommitted changes): %s\n", style.Warning.Render("⚠"), p)
	}
	if len(removed)+len(legacy)+len(leftInPlace) == 0 {
		fmt.Println("Nothing to clean.")
	}
	return nil
}
