package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msageha/docflow/internal/catalog"
	"github.com/msageha/docflow/internal/model"
	"github.com/msageha/docflow/internal/workflow"
)

type planOutput struct {
	Requested []string            `json:"requested"`
	Plan      model.ExecutionPlan `json:"plan"`
	Waves     [][]string          `json:"waves"`
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "plan <document-id>...",
		Short: "Print the execution plan and wave preview without generating anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newBaseApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return printPlan(cmd.OutOrStdout(), a.catalog, args, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	return cmd
}

func printPlan(w io.Writer, cat *catalog.Catalog, ids []string, jsonOutput bool) error {
	plan, err := cat.Resolve(ids)
	if err != nil {
		return err
	}
	out := planOutput{
		Requested: ids,
		Plan:      plan,
		Waves:     workflow.PreviewWaves(plan, cat.Dependencies),
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "Plan (%d documents):\n", len(plan))
	for i, id := range plan {
		def, _ := cat.Get(id)
		deps := "-"
		if len(def.DependsOn) > 0 {
			deps = strings.Join(def.DependsOn, ", ")
		}
		fmt.Fprintf(w, "  %2d. %-24s  %-8s  depends on: %s\n", i+1, id, def.Generator, deps)
	}
	fmt.Fprintln(w, "\nWaves:")
	for i, wave := range out.Waves {
		fmt.Fprintf(w, "  %d: %s\n", i+1, strings.Join(wave, ", "))
	}
	return nil
}
