package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eizorerad/milhouse-sub002/internal/config"
	"github.com/eizorerad/milhouse-sub002/internal/style"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupMaintenance,
	Short:   "Show or initialize persisted run defaults",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective run configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .milhouse/config.json",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	path := config.DefaultPath(workDir)

	cfg, err := config.LoadRunConfig(path)
	if errors.Is(err, config.ErrNotFound) {
		fmt.Printf("%s (defaults; no %s)\n", style.Dim.Render("not configured"), path)
		cfg = config.DefaultRunConfig()
	} else if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	path := config.DefaultPath(workDir)

	if _, err := config.LoadRunConfig(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := config.SaveRunConfig(path, config.DefaultRunConfig()); err != nil {
		return err
	}
	fmt.Printf("%s wrote %s\n", style.Success.Render("✓"), path)
	return nil
}
