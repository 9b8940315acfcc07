package dov_fixtures

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
)

// Refresh updates every resource in the jobs, one at a time.
//
// A failure only affects its own resource. The run stops early if ctx is
// cancelled, in which case the report's Interrupted field is set.
func Refresh(
	ctx context.Context,
	logger *zap.Logger,
	updater *Updater,
	baseURL string,
	jobs []Job,
) *Report {
	report := newReport(baseURL)

	logger.Info("Started refreshing fixtures", zap.Stringer("run", report.ID), zap.Int("jobs", len(jobs)))
	defer func() {
		report.Finished = time.Now()
		logger.Info(
			"Finished refreshing fixtures",
			zap.Stringer("run", report.ID),
			zap.Duration("duration", report.Finished.Sub(report.Started)),
			zap.Int("updated", report.Succeeded()),
			zap.Int("failed", report.Failed()),
		)
	}()

	for _, job := range jobs {
		if err := refreshJob(ctx, logger.With(zap.String("dataset", job.Name)), updater, job, report); err != nil {
			report.Interrupted = err
			break
		}
	}

	return report
}

func refreshJob(ctx context.Context, logger *zap.Logger, updater *Updater, job Job, report *Report) error {
	logger.Debug("Refreshing", zap.Int("resources", len(job.Resources)))

	for _, r := range job.Resources {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.add(updater.Update(ctx, r))
	}

	if job.Schemas == nil {
		return nil
	}

	schemas, err := job.Schemas.Schemas(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		placeholder := Resource{Dataset: job.Name, Path: path.Join(job.Dir, "xsd_*.xml")}
		report.add(updater.Fail(placeholder, fmt.Errorf("unable to discover the XSD schemas: %w", err)))
		return nil
	}

	logger.Debug("Discovered schemas", zap.Strings("schemas", schemas))

	for _, schema := range schemas {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.add(updater.Update(ctx, job.SchemaResource(schema)))
	}

	return nil
}
