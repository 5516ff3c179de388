package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/status"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show the persisted status of a run, or list known runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, closer, err := logging.Open(cfg.Logging, "docflow")
			if err != nil {
				return err
			}
			defer closer.Close()
			store := status.NewFileStore(cfg.Status.Dir, logger)
			w := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := store.List()
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintf(w, "no runs in %s\n", store.Dir())
					return nil
				}
				for _, id := range runs {
					rec, err := store.Get(id)
					if err != nil {
						fmt.Fprintf(w, "%s  (unreadable: %v)\n", id, err)
						continue
					}
					fmt.Fprintf(w, "%s  %-16s  %s\n", id, rec.Status, rec.UpdatedAt)
				}
				return nil
			}

			rec, err := store.Get(args[0])
			if err != nil {
				return fmt.Errorf("status %s: %w", args[0], err)
			}
			return status.Print(w, rec, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	return cmd
}
