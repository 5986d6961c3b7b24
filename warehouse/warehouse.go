// Package warehouse defines the capability contract the cleaning engine needs
// from a SQL data warehouse. Vendor adapters live in sub-packages.
package warehouse

import (
	"context"
	"fmt"
	"strings"
)

// WriteDisposition controls what happens when a query writes to an existing
// destination table.
type WriteDisposition string

const (
	// WriteEmpty fails the job if the destination already holds data.
	WriteEmpty WriteDisposition = "WRITE_EMPTY"
	// WriteAppend appends the query results to the destination.
	WriteAppend WriteDisposition = "WRITE_APPEND"
	// WriteTruncate replaces the destination contents with the results.
	WriteTruncate WriteDisposition = "WRITE_TRUNCATE"
)

// Valid reports whether d is one of the known dispositions.
func (d WriteDisposition) Valid() bool {
	switch d {
	case WriteEmpty, WriteAppend, WriteTruncate:
		return true
	default:
		return false
	}
}

// TableRef fully qualifies a warehouse table.
type TableRef struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// String renders the reference as project.dataset.table.
func (r TableRef) String() string {
	return fmt.Sprintf("%s.%s.%s", r.ProjectID, r.DatasetID, r.TableID)
}

// ParseTableRef parses "project.dataset.table" or "dataset.table" (in which
// case defaultProject is used).
func ParseTableRef(s, defaultProject string) (TableRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	switch len(parts) {
	case 2:
		if defaultProject == "" {
			return TableRef{}, fmt.Errorf("table reference %q has no project", s)
		}
		return TableRef{ProjectID: defaultProject, DatasetID: parts[0], TableID: parts[1]}, nil
	case 3:
		return TableRef{ProjectID: parts[0], DatasetID: parts[1], TableID: parts[2]}, nil
	default:
		return TableRef{}, fmt.Errorf("invalid table reference %q", s)
	}
}

// JobConfig is the execution configuration for one query job.
type JobConfig struct {
	// Destination is nil when the query runs without a destination override.
	Destination       *TableRef
	UseLegacySQL      bool
	AllowLargeResults bool
	WriteDisposition  WriteDisposition
}

// JobError is one entry of a job's error list.
type JobError struct {
	Reason   string `json:"reason,omitempty"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message"`
}

func (e JobError) String() string {
	if e.Reason == "" {
		return e.Message
	}
	return e.Reason + ": " + e.Message
}

// Job is a handle on a submitted query.
type Job interface {
	// ID returns the warehouse job identifier.
	ID() string
	// Wait blocks until the job is terminal. A non-nil error means the wait
	// itself failed (transport, timeout); job-level failures are reported by
	// Errors.
	Wait(ctx context.Context) error
	// Errors returns the job's error list, empty on success.
	Errors() []JobError
}

// FieldSpec describes one column of a table schema.
type FieldSpec struct {
	Name        string      `json:"name" yaml:"name"`
	Type        string      `json:"type" yaml:"type"`
	Mode        string      `json:"mode,omitempty" yaml:"mode,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []FieldSpec `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Querier submits SQL statements.
type Querier interface {
	// Project returns the project queries are billed to.
	Project() string
	// Query submits sql and returns immediately with a job handle. The
	// client appends a unique suffix to jobIDPrefix.
	Query(ctx context.Context, sql string, cfg JobConfig, jobIDPrefix string) (Job, error)
}

// Admin covers the table and dataset operations used by rule setup.
type Admin interface {
	CreateTable(ctx context.Context, ref TableRef, schema []FieldSpec) error
	CopyTable(ctx context.Context, src, dst TableRef, disposition WriteDisposition) error
	CreateDataset(ctx context.Context, datasetID, description string, labels map[string]string) error
	TableSchema(tableName string) ([]FieldSpec, error)
}

// Client is the full warehouse capability set handed to rules.
type Client interface {
	Querier
	Admin
}
