package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/warehouse"
)

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save writes the run and replaces its jobs in one transaction
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	summaries, err := json.Marshal(rec.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rule summaries: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, project_id, dataset_id, sandbox_dataset_id, table_namer,
			status, error, started_at, finished_at, rules)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at,
			rules = EXCLUDED.rules
	`, rec.ID, rec.ProjectID, rec.DatasetID, rec.SandboxDatasetID, rec.TableNamer,
		rec.Status, rec.Error, rec.StartedAt, rec.FinishedAt, string(summaries))
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM query_jobs WHERE run_id = $1`, rec.ID); err != nil {
		return fmt.Errorf("failed to clear jobs: %w", err)
	}

	for i, job := range rec.Jobs {
		jobErrors, err := json.Marshal(job.Errors)
		if err != nil {
			return fmt.Errorf("failed to encode job errors: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO query_jobs (run_id, seq, job_id, rule, query, state, errors)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rec.ID, i, job.JobID, job.Rule, job.Query, string(job.State), string(jobErrors))
		if err != nil {
			return fmt.Errorf("failed to insert job %s: %w", job.JobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// Get retrieves a run and its jobs by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT id, project_id, dataset_id, sandbox_dataset_id, table_namer,
			status, error, started_at, finished_at, rules
		FROM pipeline_runs
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	jobs, err := s.jobs(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Jobs = jobs
	return &rec, nil
}

// List returns runs without their jobs, newest first
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, dataset_id, sandbox_dataset_id, table_namer,
			status, error, started_at, finished_at, rules
		FROM pipeline_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) jobs(ctx context.Context, runID string) ([]rules.QueryJobResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, rule, query, state, errors
		FROM query_jobs
		WHERE run_id = $1
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []rules.QueryJobResult
	for rows.Next() {
		var job rules.QueryJobResult
		var state string
		var rawErrors []byte
		if err := rows.Scan(&job.JobID, &job.Rule, &job.Query, &state, &rawErrors); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.State = rules.JobState(state)
		var jobErrors []warehouse.JobError
		if err := json.Unmarshal(rawErrors, &jobErrors); err != nil {
			return nil, fmt.Errorf("failed to decode job errors: %w", err)
		}
		job.Errors = jobErrors
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var summaries []byte
	err := row.Scan(&rec.ID, &rec.ProjectID, &rec.DatasetID, &rec.SandboxDatasetID, &rec.TableNamer,
		&rec.Status, &rec.Error, &rec.StartedAt, &rec.FinishedAt, &summaries)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(summaries, &rec.Rules); err != nil {
		return Record{}, fmt.Errorf("failed to decode rule summaries: %w", err)
	}
	rec.StartedAt = rec.StartedAt.UTC()
	rec.FinishedAt = rec.FinishedAt.UTC()
	return rec, nil
}
