package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	dov_fixtures "github.com/Michael-F-Bryan/dov-fixtures"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func historyCommand() *cobra.Command {
	var limit int
	format := formatText

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect previous runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			historyList(cmd.Context(), cmd.OutOrStdout(), limit, format)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "How many runs to show (0 for all)")
	list.Flags().VarP(&format, "format", "f", `The output format ("text" or "json")`)
	cmd.AddCommand(list)

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show every attempt made during a run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			historyShow(cmd.Context(), cmd.OutOrStdout(), args[0], format)
		},
	}
	show.Flags().VarP(&format, "format", "f", `The output format ("text" or "json")`)
	cmd.AddCommand(show)

	return cmd
}

func historyList(ctx context.Context, w io.Writer, limit int, format format) {
	logger := zap.L()

	db, err := initDb()
	if err != nil {
		logger.Fatal("Unable to initialize the database", zap.Error(err))
	}

	runs, err := dov_fixtures.ListRuns(ctx, db, limit)
	if err != nil {
		logger.Fatal("Unable to read the runs", zap.Error(err))
	}

	var results []runInfo
	for _, r := range runs {
		results = append(results, newRunInfo(r))
	}

	switch format {
	case formatText:
		for _, r := range results {
			fmt.Fprintf(w, "[%d] %s %s (updated: %d, failed: %d)\n", r.ID, r.Started.Format(time.RFC3339), r.BaseURL, r.Succeeded, r.Failed)
		}

	case formatJSON:
		writeJSON(w, results)

	default:
		logger.Fatal("Unknown output format", zap.Stringer("format", format))
	}
}

func historyShow(ctx context.Context, w io.Writer, rawID string, format format) {
	logger := zap.L()

	id, err := strconv.ParseUint(rawID, 10, 0)
	if err != nil {
		logger.Fatal("Invalid run ID", zap.String("id", rawID), zap.Error(err))
	}

	db, err := initDb()
	if err != nil {
		logger.Fatal("Unable to initialize the database", zap.Error(err))
	}

	run, err := dov_fixtures.GetRun(ctx, db, uint(id))
	if err != nil {
		logger.Fatal("Unable to load the run", zap.Uint64("id", id), zap.Error(err))
	}

	info := newRunInfo(run)
	for _, a := range run.Attempts {
		info.Attempts = append(info.Attempts, attemptInfo{
			Dataset: a.Dataset,
			Path:    a.Path,
			URL:     a.URL,
			State:   a.State,
			Error:   a.Error,
			Bytes:   a.Bytes,
		})
	}

	switch format {
	case formatText:
		fmt.Fprintf(w, "Run %d (%s) against %s\n", info.ID, info.UUID, info.BaseURL)
		for _, a := range info.Attempts {
			if a.State == dov_fixtures.AttemptStateSucceeded {
				fmt.Fprintf(w, "  %s ... OK (%d bytes)\n", a.Path, a.Bytes)
			} else {
				fmt.Fprintf(w, "  %s ... FAILED: %s\n", a.Path, a.Error)
			}
		}

	case formatJSON:
		writeJSON(w, info)

	default:
		logger.Fatal("Unknown output format", zap.Stringer("format", format))
	}
}

func writeJSON(w io.Writer, value any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		zap.L().Fatal("Unable to write output", zap.Error(err))
	}
}

type format string

const (
	formatText format = "text"
	formatJSON format = "json"
)

var knownFormats = []format{formatText, formatJSON}

func (f format) String() string {
	return string(f)
}

func (f *format) Set(value string) error {
	for _, fmt := range knownFormats {
		if value == string(fmt) {
			*f = fmt
			return nil
		}
	}

	return unknownFormatError{}
}

func (f *format) Type() string {
	return "string"
}

type unknownFormatError struct{}

func (u unknownFormatError) Error() string {
	msg := "expected one of "

	for i, fmt := range knownFormats {
		if i > 0 {
			msg += ", "
		}

		msg += string(fmt)
	}

	return msg
}

type runInfo struct {
	ID          uint          `json:"id"`
	UUID        string        `json:"uuid"`
	BaseURL     string        `json:"base-url"`
	Started     time.Time     `json:"started"`
	Finished    time.Time     `json:"finished"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Interrupted bool          `json:"interrupted,omitempty"`
	Attempts    []attemptInfo `json:"attempts,omitempty"`
}

func newRunInfo(r dov_fixtures.Run) runInfo {
	return runInfo{
		ID:          r.ID,
		UUID:        r.UUID,
		BaseURL:     r.BaseURL,
		Started:     r.Started,
		Finished:    r.Finished,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Interrupted: r.Interrupted,
	}
}

type attemptInfo struct {
	Dataset string                    `json:"dataset"`
	Path    string                    `json:"path"`
	URL     string                    `json:"url"`
	State   dov_fixtures.AttemptState `json:"state"`
	Error   string                    `json:"error,omitempty"`
	Bytes   int                       `json:"bytes"`
}
