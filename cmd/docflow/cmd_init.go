package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/docflow/internal/setup"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter config, catalog and request directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := setup.Run(dir); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized docflow project in %s\n", dir)
			return nil
		},
	}
}
