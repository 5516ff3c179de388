package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/docflow/internal/model"
	"github.com/msageha/docflow/internal/workflow"
)

// errRunFailed marks a run that finished without completing every document.
var errRunFailed = errors.New("run did not complete every document")

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		request    string
		runID      string
		jsonOutput bool
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "run <document-id>...",
		Short: "Generate the requested documents and everything they depend on",
		Long: `Resolve the requested documents into a dependency-ordered plan and
generate it wave by wave. Documents in the same wave run concurrently.

Examples:
  docflow run --request "a todo app with sharing" prd architecture
  docflow run --request-file req.txt --json api_spec`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("request-file"); path != "" {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read request file: %w", err)
				}
				request = string(data)
			}
			if runID != "" && !model.ValidateID(runID) {
				return fmt.Errorf("invalid run id %q", runID)
			}

			var progress io.Writer
			if !quiet && !jsonOutput {
				progress = cmd.ErrOrStderr()
			}
			a, err := newApp(opts, progress)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.lockOutput(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorkflow(ctx, a, workflow.Request{RunID: runID, UserRequest: request, DocumentIDs: args}, cmd.OutOrStdout(), jsonOutput)
		},
	}
	cmd.Flags().StringVar(&request, "request", "", "user request text passed to every generator")
	cmd.Flags().String("request-file", "", "read the user request from a file")
	cmd.Flags().StringVar(&runID, "run-id", "", "use this run id instead of generating one")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the workflow result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func runWorkflow(ctx context.Context, a *app, req workflow.Request, w io.Writer, jsonOutput bool) error {
	res, err := a.coordinator.Run(ctx, req)
	if res == nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	} else {
		printSummary(w, res)
	}
	if err != nil {
		return err
	}
	if res.Summary.Status != model.RunComplete {
		return fmt.Errorf("%w: %s", errRunFailed, res.Summary.Message)
	}
	return nil
}

func printSummary(w io.Writer, res *model.WorkflowResult) {
	s := res.Summary
	fmt.Fprintf(w, "\nRun:      %s\n", res.RunID)
	fmt.Fprintf(w, "Status:   %s\n", s.Status)
	fmt.Fprintf(w, "Summary:  %s\n", s.Message)
	fmt.Fprintf(w, "Duration: %s\n", s.Metrics.TotalDuration.Round(time.Millisecond))

	if len(s.Metrics.Waves) > 0 {
		fmt.Fprintln(w, "\nWaves:")
		for _, wave := range s.Metrics.Waves {
			fmt.Fprintf(w, "  %d  %-8s  efficiency=%.0f%%  %v\n",
				wave.Number, wave.Duration.Round(time.Millisecond), wave.ParallelEfficiency, wave.DocumentIDs)
		}
	}

	fmt.Fprintln(w, "\nDocuments:")
	for _, m := range res.Metadata {
		line := fmt.Sprintf("  %-24s  %-11s", m.ID, m.Status)
		if m.OutputRef != "" {
			line += "  " + m.OutputRef
		}
		if doc, ok := res.Documents[m.ID]; ok && doc.Quality != nil && doc.Quality.Improved {
			line += "  (improved)"
		}
		if m.Error != "" {
			line += "  " + m.Error
		}
		fmt.Fprintln(w, line)
	}
}
