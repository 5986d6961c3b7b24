// Package warehousetest provides a scripted in-memory warehouse.Client for
// tests.
package warehousetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/liamcoop/curation/warehouse"
)

// Submission records one Query call.
type Submission struct {
	SQL         string
	Config      warehouse.JobConfig
	JobIDPrefix string
	JobID       string
}

// Outcome scripts the behaviour of a submitted query.
type Outcome struct {
	SubmitErr error                // returned from Query
	WaitErr   error                // returned from Job.Wait
	JobErrors []warehouse.JobError // reported by Job.Errors
}

// Client is a fake warehouse.Client. Queries succeed unless an Outcome is
// scripted for their SQL text or submission index.
type Client struct {
	ProjectID string
	Schemas   *warehouse.SchemaSet

	mu          sync.Mutex
	submissions []Submission
	bySQL       map[string]Outcome
	byIndex     map[int]Outcome
	tables      map[string][]warehouse.FieldSpec
	datasets    map[string]string
	copies      [][2]warehouse.TableRef
	closed      bool
}

// NewClient creates a fake client billing to projectID.
func NewClient(projectID string) *Client {
	return &Client{
		ProjectID: projectID,
		Schemas:   warehouse.NewSchemaSet(""),
		bySQL:     make(map[string]Outcome),
		byIndex:   make(map[int]Outcome),
		tables:    make(map[string][]warehouse.FieldSpec),
		datasets:  make(map[string]string),
	}
}

// FailSQL scripts the outcome for every submission of sql.
func (c *Client) FailSQL(sql string, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySQL[sql] = o
}

// FailAt scripts the outcome for the n-th submission (zero based).
func (c *Client) FailAt(n int, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byIndex[n] = o
}

// Submissions returns a copy of every recorded Query call.
func (c *Client) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Submission, len(c.submissions))
	copy(out, c.submissions)
	return out
}

// SQL returns the SQL text of every submission in order.
func (c *Client) SQL() []string {
	subs := c.Submissions()
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.SQL)
	}
	return out
}

// HasTable reports whether CreateTable or CopyTable produced ref.
func (c *Client) HasTable(ref warehouse.TableRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tables[ref.String()]
	return ok
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Project() string {
	return c.ProjectID
}

func (c *Client) Query(ctx context.Context, sql string, cfg warehouse.JobConfig, jobIDPrefix string) (warehouse.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := len(c.submissions)
	outcome, ok := c.byIndex[idx]
	if !ok {
		outcome = c.bySQL[sql]
	}

	sub := Submission{SQL: sql, Config: cfg, JobIDPrefix: jobIDPrefix}
	if outcome.SubmitErr != nil {
		c.submissions = append(c.submissions, sub)
		return nil, outcome.SubmitErr
	}

	sub.JobID = jobIDPrefix + uuid.NewString()
	c.submissions = append(c.submissions, sub)
	if cfg.Destination != nil && outcome.JobErrors == nil {
		c.tables[cfg.Destination.String()] = nil
	}
	return &job{id: sub.JobID, waitErr: outcome.WaitErr, errs: outcome.JobErrors}, nil
}

func (c *Client) CreateTable(ctx context.Context, ref warehouse.TableRef, schema []warehouse.FieldSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[ref.String()]; exists {
		return fmt.Errorf("table %s already exists", ref)
	}
	c.tables[ref.String()] = schema
	return nil
}

func (c *Client) CopyTable(ctx context.Context, src, dst warehouse.TableRef, disposition warehouse.WriteDisposition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	schema, ok := c.tables[src.String()]
	if !ok {
		return fmt.Errorf("table %s not found", src)
	}
	if _, exists := c.tables[dst.String()]; exists && disposition == warehouse.WriteEmpty {
		return fmt.Errorf("table %s already exists", dst)
	}
	c.tables[dst.String()] = schema
	c.copies = append(c.copies, [2]warehouse.TableRef{src, dst})
	return nil
}

func (c *Client) CreateDataset(ctx context.Context, datasetID, description string, labels map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.datasets[datasetID]; exists {
		return fmt.Errorf("dataset %s already exists", datasetID)
	}
	c.datasets[datasetID] = description
	return nil
}

func (c *Client) TableSchema(tableName string) ([]warehouse.FieldSpec, error) {
	return c.Schemas.Fields(tableName)
}

// Close marks the client closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type job struct {
	id      string
	waitErr error
	errs    []warehouse.JobError
}

func (j *job) ID() string                     { return j.id }
func (j *job) Wait(ctx context.Context) error { return j.waitErr }
func (j *job) Errors() []warehouse.JobError   { return j.errs }
