// Package cmd wires configuration, storage, and the command executor into the
// serve and worker processes.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals
var (
	// Version is injected at build time.
	Version = "dev"

	configFile string
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "registry",
		Short:   "Community registry backend",
		Long:    "Account, player, team and tournament registry with scoped permissions",
		Version: Version,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "registry.yml", "config file")
	root.AddCommand(serveCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(resetCmd())

	return root
}

func Execute() {
	if errExecute := rootCmd().Execute(); errExecute != nil {
		os.Exit(1)
	}
}
