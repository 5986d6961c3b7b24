package rules

import (
	"context"
	"log/slog"

	"github.com/liamcoop/curation/warehouse"
)

// Runner executes one rule's queries in order against a warehouse.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner logging to logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run submits specs one at a time, waiting for each job before the next.
// The first failed job stops the rule: a job reporting errors yields a
// QueryExecutionError, submission and wait errors are returned unchanged.
// Every submitted job is in the returned slice even when err is non-nil.
func (r *Runner) Run(ctx context.Context, client warehouse.Querier, specs []QuerySpec, info Metadata) ([]QueryJobResult, error) {
	project := client.Project()
	results := make([]QueryJobResult, 0, len(specs))
	logger := r.logger.With(
		"project", project,
		"rule", info.Rule,
		"module", info.ModuleName,
		"function", info.FunctionName,
		"line", info.Line,
	)

	for _, spec := range specs {
		cfg, err := spec.JobConfig(project)
		if err != nil {
			logger.Error("invalid query spec", "query", spec.Query, "error", err)
			return results, err
		}

		job, err := client.Query(ctx, spec.Query, cfg, info.JobIDPrefix())
		if err != nil {
			logger.Error("failed to submit query", "query", spec.Query, "error", err)
			return results, err
		}

		jobID := job.ID()
		logger.Info("Running "+jobID, "job_id", jobID)

		result := QueryJobResult{JobID: jobID, Rule: info.Rule, Query: spec.Query, State: JobSucceeded}

		if err := job.Wait(ctx); err != nil {
			result.State = JobFailed
			results = append(results, result)
			logger.Error("failed waiting for query job", "job_id", jobID, "query", spec.Query, "error", err)
			return results, err
		}

		if errs := job.Errors(); len(errs) > 0 {
			result.State = JobFailed
			result.Errors = errs
			results = append(results, result)
			execErr := &QueryExecutionError{
				ProjectID: project,
				Info:      info,
				JobID:     jobID,
				Query:     spec.Query,
				Errors:    errs,
			}
			logger.Error("query job reported errors", "job_id", jobID, "query", spec.Query, "error", execErr)
			return results, execErr
		}

		results = append(results, result)
		logger.Info("query job succeeded", "job_id", jobID)
	}

	return results, nil
}
