// Command coredb exposes the storage core (buffer pool, B+Tree index,
// lock manager) through a small cobra CLI, grounded on the teacher's
// preference for cobra as its CLI layer (github.com/spf13/cobra in
// _teacher_ref/go.mod) even though the teacher's own entrypoint
// (_teacher_ref/cmd/server/singleNode) wires a server directly without it;
// cobra is used here instead for an inspectable, subcommand-based
// surface over the same components.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coredb/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "coredb",
		Short: "Storage core for the LRU-K / buffer pool / B+Tree / lock manager teaching database",
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file to load configuration from")

	root.AddCommand(newDemoCmd(&envFile))
	return root
}

func newLogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func loadConfig(envFile string) (config.Config, error) {
	return config.Load(envFile)
}
