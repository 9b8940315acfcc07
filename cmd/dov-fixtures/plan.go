package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func planCommand() *cobra.Command {
	format := formatText

	cmd := &cobra.Command{
		Use:   "plan [dataset...]",
		Short: "List the fixtures an update would write, without fetching anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return plan(cmd, args, format)
		},
	}
	cmd.Flags().VarP(&format, "format", "f", `The output format ("text" or "json")`)

	return cmd
}

func plan(cmd *cobra.Command, args []string, format format) error {
	table, err := cfg.Table()
	if err != nil {
		return err
	}

	jobs, err := table.Plan(cfg.BaseURL, args...)
	if err != nil {
		return err
	}

	var entries []planEntry

	for _, job := range jobs {
		for _, r := range job.Resources {
			entries = append(entries, planEntry{
				Dataset:          r.Dataset,
				Path:             r.Path,
				URL:              r.URL,
				FirstFeatureOnly: r.Transform != nil,
			})
		}

		if job.Schemas == nil {
			continue
		}

		schemas, err := job.Schemas.Schemas(cmd.Context())
		if err != nil {
			return fmt.Errorf("unable to discover the schemas for %s: %w", job.Name, err)
		}

		for _, schema := range schemas {
			r := job.SchemaResource(schema)
			entries = append(entries, planEntry{Dataset: r.Dataset, Path: r.Path, URL: r.URL})
		}
	}

	switch format {
	case formatJSON:
		writeJSON(cmd.OutOrStdout(), entries)
	default:
		writePlan(cmd.OutOrStdout(), entries)
	}

	return nil
}

func writePlan(w io.Writer, entries []planEntry) {
	for _, e := range entries {
		suffix := ""
		if e.FirstFeatureOnly {
			suffix = " (first feature member)"
		}
		fmt.Fprintf(w, "%s <- %s%s\n", e.Path, e.URL, suffix)
	}
}

type planEntry struct {
	Dataset          string `json:"dataset"`
	Path             string `json:"path"`
	URL              string `json:"url"`
	FirstFeatureOnly bool   `json:"first-feature-only,omitempty"`
}
