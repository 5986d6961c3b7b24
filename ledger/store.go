// Package ledger persists the outcome of pipeline runs.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/liamcoop/curation/rules"
)

// ErrNotFound is returned when a run id is not in the ledger
var ErrNotFound = errors.New("run not found")

// Record is the persisted form of a rules.PipelineRun
type Record struct {
	ID               string                 `json:"id"`
	ProjectID        string                 `json:"project_id"`
	DatasetID        string                 `json:"dataset_id"`
	SandboxDatasetID string                 `json:"sandbox_dataset_id"`
	TableNamer       string                 `json:"table_namer,omitempty"`
	Status           string                 `json:"status"`
	Error            string                 `json:"error,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	FinishedAt       time.Time              `json:"finished_at"`
	Rules            []rules.RuleSummary    `json:"rules"`
	Jobs             []rules.QueryJobResult `json:"jobs"`
}

// FromRun converts a finished run into a Record
func FromRun(run *rules.PipelineRun) Record {
	rec := Record{
		ID:               run.ID,
		ProjectID:        run.Target.ProjectID,
		DatasetID:        run.Target.DatasetID,
		SandboxDatasetID: run.Target.SandboxDatasetID,
		TableNamer:       run.Target.TableNamer,
		Status:           run.Status(),
		StartedAt:        run.StartedAt.UTC(),
		FinishedAt:       run.FinishedAt.UTC(),
		Rules:            append([]rules.RuleSummary(nil), run.Rules...),
		Jobs:             append([]rules.QueryJobResult(nil), run.Jobs...),
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	return rec
}

// Store defines the interface for run persistence
type Store interface {
	// Save inserts or replaces the record with the same ID
	Save(ctx context.Context, rec Record) error
	// Get returns ErrNotFound for unknown ids
	Get(ctx context.Context, id string) (*Record, error)
	// List returns the most recent runs first, at most limit of them
	List(ctx context.Context, limit int) ([]Record, error)
}
