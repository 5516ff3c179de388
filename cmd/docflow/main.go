package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	outputDir  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "docflow",
		Short:         "Generate dependent documents in parallel waves",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "docflow.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&opts.outputDir, "output", "", "override output.dir")

	root.AddCommand(newInitCmd())
	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newPlanCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the docflow version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docflow %s\n", version)
		},
	})
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
