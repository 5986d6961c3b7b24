// Package bigquery implements warehouse.Client on Google BigQuery.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"

	"github.com/liamcoop/curation/warehouse"
)

// Scopes requested for impersonated credentials.
var Scopes = []string{
	"https://www.googleapis.com/auth/bigquery",
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/devstorage.read_write",
}

// Config holds BigQuery connection settings.
type Config struct {
	ProjectID       string
	Location        string
	CredentialsFile string
	SchemaDir       string
}

// Client implements warehouse.Client against BigQuery.
type Client struct {
	bq       *bq.Client
	schemas  *warehouse.SchemaSet
	location string
	logger   *slog.Logger
}

// New opens a BigQuery client billing to cfg.ProjectID. A non-empty runAs
// impersonates that service account for the lifetime of the client.
func New(ctx context.Context, cfg Config, runAs string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if runAs != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: runAs,
			Scopes:          Scopes,
		}, opts...)
		if err != nil {
			return nil, classify("impersonate", fmt.Errorf("failed to impersonate %s: %w", runAs, err))
		}
		opts = []option.ClientOption{option.WithTokenSource(ts)}
		logger.Info("impersonating service account", "run_as", runAs)
	}

	client, err := bq.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, classify("connect", fmt.Errorf("failed to create bigquery client: %w", err))
	}

	return &Client{
		bq:       client,
		schemas:  warehouse.NewSchemaSet(cfg.SchemaDir),
		location: cfg.Location,
		logger:   logger,
	}, nil
}

// NewFactory returns a constructor opening one client per run, overriding
// the configured project with the run's project.
func NewFactory(cfg Config, logger *slog.Logger) func(ctx context.Context, projectID, runAs string) (warehouse.Client, error) {
	return func(ctx context.Context, projectID, runAs string) (warehouse.Client, error) {
		c := cfg
		if projectID != "" {
			c.ProjectID = projectID
		}
		client, err := New(ctx, c, runAs, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (c *Client) Project() string {
	return c.bq.Project()
}

// Query starts a query job. BigQuery appends a random suffix to
// jobIDPrefix.
func (c *Client) Query(ctx context.Context, sql string, cfg warehouse.JobConfig, jobIDPrefix string) (warehouse.Job, error) {
	q := c.bq.Query(sql)
	q.JobIDConfig = bq.JobIDConfig{
		JobID:          jobIDPrefix,
		AddJobIDSuffix: true,
		Location:       c.location,
	}
	q.UseLegacySQL = cfg.UseLegacySQL
	if cfg.Destination != nil {
		// BigQuery rejects large results without a destination table.
		q.AllowLargeResults = cfg.AllowLargeResults
		q.Dst = c.table(*cfg.Destination)
		q.WriteDisposition = bq.TableWriteDisposition(cfg.WriteDisposition)
	}

	j, err := q.Run(ctx)
	if err != nil {
		return nil, classify("query", err)
	}
	return &job{job: j}, nil
}

func (c *Client) CreateTable(ctx context.Context, ref warehouse.TableRef, schema []warehouse.FieldSpec) error {
	meta := &bq.TableMetadata{Schema: toSchema(schema)}
	if err := c.table(ref).Create(ctx, meta); err != nil {
		return classify("create_table", fmt.Errorf("failed to create table %s: %w", ref, err))
	}
	return nil
}

func (c *Client) CopyTable(ctx context.Context, src, dst warehouse.TableRef, disposition warehouse.WriteDisposition) error {
	copier := c.table(dst).CopierFrom(c.table(src))
	copier.WriteDisposition = bq.TableWriteDisposition(disposition)
	copier.Location = c.location

	j, err := copier.Run(ctx)
	if err != nil {
		return classify("copy_table", fmt.Errorf("failed to copy %s to %s: %w", src, dst, err))
	}
	status, err := j.Wait(ctx)
	if err != nil {
		return classify("copy_table", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("copy job %s failed: %w", j.ID(), err)
	}
	return nil
}

func (c *Client) CreateDataset(ctx context.Context, datasetID, description string, labels map[string]string) error {
	meta := &bq.DatasetMetadata{
		Description: description,
		Labels:      labels,
		Location:    c.location,
	}
	if err := c.bq.Dataset(datasetID).Create(ctx, meta); err != nil {
		return classify("create_dataset", fmt.Errorf("failed to create dataset %s: %w", datasetID, err))
	}
	return nil
}

func (c *Client) TableSchema(tableName string) ([]warehouse.FieldSpec, error) {
	return c.schemas.Fields(tableName)
}

// Close releases the underlying BigQuery client.
func (c *Client) Close() error {
	return c.bq.Close()
}

func (c *Client) table(ref warehouse.TableRef) *bq.Table {
	return c.bq.DatasetInProject(ref.ProjectID, ref.DatasetID).Table(ref.TableID)
}

type job struct {
	job    *bq.Job
	status *bq.JobStatus
}

func (j *job) ID() string {
	return j.job.ID()
}

// Wait distinguishes failing to learn the job's status, returned as an
// error, from the job itself failing, reported through Errors.
func (j *job) Wait(ctx context.Context) error {
	status, err := j.job.Wait(ctx)
	if err != nil {
		return classify("wait", err)
	}
	j.status = status
	return nil
}

func (j *job) Errors() []warehouse.JobError {
	if j.status == nil {
		return nil
	}
	return jobErrors(j.status)
}

func jobErrors(status *bq.JobStatus) []warehouse.JobError {
	out := make([]warehouse.JobError, 0, len(status.Errors))
	for _, e := range status.Errors {
		if e == nil {
			continue
		}
		out = append(out, warehouse.JobError{Reason: e.Reason, Location: e.Location, Message: e.Message})
	}
	if len(out) == 0 {
		if err := status.Err(); err != nil {
			var bqErr *bq.Error
			if errors.As(err, &bqErr) {
				out = append(out, warehouse.JobError{Reason: bqErr.Reason, Location: bqErr.Location, Message: bqErr.Message})
			} else {
				out = append(out, warehouse.JobError{Message: err.Error()})
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var transientReasons = map[string]bool{
	"backendError":         true,
	"internalError":        true,
	"jobBackendError":      true,
	"jobInternalError":     true,
	"jobRateLimitExceeded": true,
	"quotaExceeded":        true,
	"rateLimitExceeded":    true,
}

// classify wraps err as an InfrastructureError, marking quota, rate limit,
// server and timeout failures transient.
func classify(op string, err error) *warehouse.InfrastructureError {
	infra := warehouse.NewInfrastructureError(op, err)

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			infra.Transient = true
		}
		for _, item := range apiErr.Errors {
			if transientReasons[item.Reason] {
				infra.Transient = true
			}
		}
	}

	if !infra.Transient && strings.Contains(strings.ToLower(err.Error()), "quota") {
		infra.Transient = true
	}
	return infra
}

// toSchema converts field specs to a BigQuery schema.
func toSchema(fields []warehouse.FieldSpec) bq.Schema {
	schema := make(bq.Schema, 0, len(fields))
	for _, f := range fields {
		mode := strings.ToUpper(f.Mode)
		fs := &bq.FieldSchema{
			Name:        f.Name,
			Type:        bq.FieldType(strings.ToUpper(f.Type)),
			Description: f.Description,
			Required:    mode == "REQUIRED",
			Repeated:    mode == "REPEATED",
		}
		if len(f.Fields) > 0 {
			fs.Schema = toSchema(f.Fields)
		}
		schema = append(schema, fs)
	}
	return schema
}
