package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clipcheck/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage clipcheck configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote sample config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration path and key settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:    %s\n", ctx.path)
			fmt.Fprintf(out, "state dir: %s\n", cfg.Paths.StateDir)
			fmt.Fprintf(out, "log dir:   %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "workers:   %d\n", cfg.Queue.Workers)
			for _, stage := range []string{"extraction", "adjudication", "report"} {
				chain, _ := cfg.ChainFor(stage)
				names := make([]string, 0, len(chain.Targets))
				for _, target := range chain.Targets {
					names = append(names, target.Name())
				}
				fmt.Fprintf(out, "%-12s %v (max_fallbacks=%d, per_target_retries=%d)\n",
					stage+":", names, chain.MaxFallbacks, chain.PerTargetRetries)
			}
			return nil
		},
	}
}
