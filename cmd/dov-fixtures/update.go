package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	dov_fixtures "github.com/Michael-F-Bryan/dov-fixtures"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func updateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [dataset...]",
		Short: "Re-download fixtures from the DOV web services",
		Long: `Re-download fixtures from the DOV web services.

Every dataset in the table is refreshed unless some dataset names are given.
A resource which can't be fetched is reported and skipped, and the command
exits with an error if anything failed.`,
		RunE: update,
	}

	return cmd
}

func update(cmd *cobra.Command, args []string) error {
	logger := zap.L()

	table, err := cfg.Table()
	if err != nil {
		return err
	}

	jobs, err := table.Plan(cfg.BaseURL, args...)
	if err != nil {
		return err
	}

	// From here on, errors aren't caused by bad usage
	cmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	client := &http.Client{Timeout: cfg.Timeout}
	fetcher := dov_fixtures.NewFetcher(client, cfg.UserAgent, limiter, logger)
	out := cmd.OutOrStdout()
	updater := dov_fixtures.NewUpdater(cfg.OutputDir, fetcher, out, logger)

	report := dov_fixtures.Refresh(ctx, logger, updater, cfg.BaseURL, jobs)
	fmt.Fprintln(out, report.Summary())

	if !cfg.NoHistory {
		saveHistory(logger, report)
	}

	return report.Err()
}

// saveHistory records the run. Failing to do so doesn't fail the update.
func saveHistory(logger *zap.Logger, report *dov_fixtures.Report) {
	db, err := initDb()
	if err != nil {
		logger.Error("Unable to initialize the database", zap.Error(err))
		return
	}

	run, err := dov_fixtures.RecordRun(context.Background(), db, report)
	if err != nil {
		logger.Error("Unable to save the run", zap.Error(err))
		return
	}

	logger.Info("Saved run", zap.Uint("id", run.ID), zap.String("uuid", run.UUID))
}
