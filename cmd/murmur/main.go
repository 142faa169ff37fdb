package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/murmur/internal/host"
	"github.com/mattjoyce/murmur/plugins/echo"
	"github.com/mattjoyce/murmur/plugins/help"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// builtins returns the plugins compiled into the binary, in load order.
func builtins() []host.Plugin {
	return []host.Plugin{help.New(), echo.New()}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "murmur",
		Short:        "murmur: event-driven chat plugin host for OneBot v11 backends",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "config.yaml", "Path to configuration file or directory")

	root.AddCommand(
		newStartCmd(),
		newVersionCmd(),
		newConfigCmd(),
		newDumpCmd(),
		newPluginsCmd(),
	)
	return root
}
