package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/murmur/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print its fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), failStyle.Render("invalid"))
				return err
			}
			fingerprint, err := config.Fingerprint(cfg.SourcePath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", okStyle.Render("valid"), cfg.SourcePath)
			printTable(out, []string{"SETTING", "VALUE"}, [][]string{
				{"fingerprint", fingerprint},
				{"command_start", strings.Join(cfg.Command.CommandStart, " ")},
				{"thread_pool", fmt.Sprintf("enabled=%t workers=%d", cfg.ThreadPool.Enabled, cfg.ThreadPool.MaxWorkers)},
				{"state", cfg.State.Path},
				{"http", transportSummary(cfg.Transport.HTTP.Enabled, cfg.Transport.HTTP.Listen)},
				{"ws", transportSummary(cfg.Transport.WS.Enabled, cfg.Transport.WS.URL)},
			})
			return nil
		},
	})
	return cmd
}

func transportSummary(enabled bool, addr string) string {
	if !enabled {
		return "disabled"
	}
	return addr
}
