package main

import (
	"github.com/spf13/cobra"

	"github.com/mattjoyce/murmur/internal/config"
)

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List built-in plugins and whether the config enables them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Defaults()
			configPath, _ := cmd.Flags().GetString("config")
			if loaded, err := config.Load(configPath); err == nil {
				cfg = loaded
			} else if cmd.Flags().Changed("config") {
				return err
			}

			var rows [][]string
			for _, p := range builtins() {
				info := p.Info()
				status := okStyle.Render("enabled")
				if info.Disabled || !cfg.IsEnabled(info.Name) {
					status = offStyle.Render("disabled")
				}
				rows = append(rows, []string{info.Name, info.Version, status, info.Description})
			}
			printTable(cmd.OutOrStdout(), []string{"NAME", "VERSION", "STATUS", "DESCRIPTION"}, rows)
			return nil
		},
	}
}
