// Package cmd holds the milhouse CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eizorerad/milhouse-sub002/internal/style"
)

// Command groups for help output.
const (
	GroupWork        = "work"
	GroupMaintenance = "maintenance"
)

var rootNoColor bool

var rootCmd = &cobra.Command{
	Use:   "milhouse",
	Short: "Dispatch agent tasks into isolated worktrees and merge the results",
	Long: `Milhouse accepts a batch of tasks, runs a code-modification agent for
each one in an isolated git worktree, then integrates the resulting
branches back into a base branch with conflict handling.

Tasks are grouped into waves by their parallel_group number; waves run
in ascending order, and tasks within a wave run concurrently up to
--max-workers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootNoColor {
			style.SetEnabled(false)
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupWork, Title: "Work Commands:"},
		&cobra.Group{ID: GroupMaintenance, Title: "Maintenance Commands:"},
	)
	rootCmd.PersistentFlags().BoolVar(&rootNoColor, "no-color", false, "Disable ANSI styling in output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
