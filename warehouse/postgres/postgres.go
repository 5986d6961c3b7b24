// Package postgres implements warehouse.Client on PostgreSQL for local
// development and integration tests. Datasets map to schemas; the project
// component of a table reference is ignored.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/liamcoop/curation/warehouse"
)

// ErrLegacySQL is returned for queries requesting legacy SQL.
var ErrLegacySQL = errors.New("legacy SQL is not supported by the postgres warehouse")

// Client implements warehouse.Client over a *sql.DB.
type Client struct {
	db      *sql.DB
	project string
	schemas *warehouse.SchemaSet
	logger  *slog.Logger
	owned   bool
}

// New wraps an open database. Close does not close db.
func New(db *sql.DB, project string, schemas *warehouse.SchemaSet, logger *slog.Logger) *Client {
	if schemas == nil {
		schemas = warehouse.NewSchemaSet("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{db: db, project: project, schemas: schemas, logger: logger}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn, project string, schemas *warehouse.SchemaSet, logger *slog.Logger) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, warehouse.NewInfrastructureError("connect", fmt.Errorf("failed to open database: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, warehouse.NewInfrastructureError("connect", fmt.Errorf("failed to ping database: %w", err))
	}
	c := New(db, project, schemas, logger)
	c.owned = true
	return c, nil
}

func (c *Client) Project() string {
	return c.project
}

// Query starts executing sql in the background. The statement's backtick
// quoted table references are rewritten to schema-qualified identifiers.
func (c *Client) Query(ctx context.Context, sqlText string, cfg warehouse.JobConfig, jobIDPrefix string) (warehouse.Job, error) {
	if cfg.UseLegacySQL {
		return nil, ErrLegacySQL
	}

	stmts, err := statements(translate(sqlText), cfg)
	if err != nil {
		return nil, err
	}

	j := &job{id: jobIDPrefix + uuid.NewString(), done: make(chan struct{})}
	go func() {
		defer close(j.done)
		j.errs, j.err = c.exec(ctx, stmts)
	}()
	return j, nil
}

// exec runs stmts in one transaction. Statement errors reported by the
// server become job errors; anything else is an infrastructure failure.
func (c *Client) exec(ctx context.Context, stmts []string) ([]warehouse.JobError, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, warehouse.NewInfrastructureError("query", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		c.logger.Debug("executing statement", "statement", stmt)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				return []warehouse.JobError{{
					Reason:   pqErr.Code.Name(),
					Location: pqErr.Position,
					Message:  pqErr.Message,
				}}, nil
			}
			return nil, warehouse.NewInfrastructureError("query", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, warehouse.NewInfrastructureError("commit", err)
	}
	return nil, nil
}

// statements expands a query and its destination into SQL statements.
func statements(query string, cfg warehouse.JobConfig) ([]string, error) {
	if cfg.Destination == nil {
		return []string{query}, nil
	}

	dst := qualify(cfg.Destination.DatasetID, cfg.Destination.TableID)
	switch cfg.WriteDisposition {
	case warehouse.WriteEmpty, "":
		return []string{fmt.Sprintf("CREATE TABLE %s AS %s", dst, query)}, nil
	case warehouse.WriteTruncate:
		return []string{
			fmt.Sprintf("DROP TABLE IF EXISTS %s", dst),
			fmt.Sprintf("CREATE TABLE %s AS %s", dst, query),
		}, nil
	case warehouse.WriteAppend:
		return []string{
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS %s WITH NO DATA", dst, query),
			fmt.Sprintf("INSERT INTO %s %s", dst, query),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported write disposition %q", cfg.WriteDisposition)
	}
}

var (
	backtickRef     = regexp.MustCompile("`([^`]+)`")
	createOrReplace = regexp.MustCompile(`(?i)CREATE\s+OR\s+REPLACE\s+TABLE\s+("[^"]+"\."[^"]+")`)
)

// translate rewrites `project.dataset.table` and `dataset.table` references
// to "dataset"."table" and expands CREATE OR REPLACE TABLE, which postgres
// lacks, into a drop and create.
func translate(sqlText string) string {
	out := backtickRef.ReplaceAllStringFunc(sqlText, func(m string) string {
		parts := strings.Split(strings.Trim(m, "`"), ".")
		switch len(parts) {
		case 1:
			return pq.QuoteIdentifier(parts[0])
		default:
			return qualify(parts[len(parts)-2], parts[len(parts)-1])
		}
	})
	return createOrReplace.ReplaceAllString(out, "DROP TABLE IF EXISTS $1; CREATE TABLE $1")
}

func qualify(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

func (c *Client) CreateTable(ctx context.Context, ref warehouse.TableRef, schema []warehouse.FieldSpec) error {
	cols := make([]string, 0, len(schema))
	for _, f := range schema {
		cols = append(cols, columnDDL(f))
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", qualify(ref.DatasetID, ref.TableID), strings.Join(cols, ", "))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", ref, err)
	}
	return nil
}

func (c *Client) CopyTable(ctx context.Context, src, dst warehouse.TableRef, disposition warehouse.WriteDisposition) error {
	query := "SELECT * FROM " + qualify(src.DatasetID, src.TableID)
	stmts, err := statements(query, warehouse.JobConfig{Destination: &dst, WriteDisposition: disposition})
	if err != nil {
		return err
	}
	errs, err := c.exec(ctx, stmts)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to copy %s to %s: %s", src, dst, errs[0])
	}
	return nil
}

func (c *Client) CreateDataset(ctx context.Context, datasetID, description string, labels map[string]string) error {
	stmts := []string{"CREATE SCHEMA " + pq.QuoteIdentifier(datasetID)}
	if description != "" {
		stmts = append(stmts, fmt.Sprintf("COMMENT ON SCHEMA %s IS %s", pq.QuoteIdentifier(datasetID), pq.QuoteLiteral(description)))
	}
	errs, err := c.exec(ctx, stmts)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to create dataset %s: %s", datasetID, errs[0])
	}
	return nil
}

func (c *Client) TableSchema(tableName string) ([]warehouse.FieldSpec, error) {
	return c.schemas.Fields(tableName)
}

// Close closes the database if Open created it.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

var columnTypes = map[string]string{
	"STRING":    "TEXT",
	"INTEGER":   "BIGINT",
	"INT64":     "BIGINT",
	"FLOAT":     "DOUBLE PRECISION",
	"FLOAT64":   "DOUBLE PRECISION",
	"NUMERIC":   "NUMERIC",
	"BOOLEAN":   "BOOLEAN",
	"BOOL":      "BOOLEAN",
	"DATE":      "DATE",
	"DATETIME":  "TIMESTAMP",
	"TIMESTAMP": "TIMESTAMPTZ",
	"TIME":      "TIME",
	"RECORD":    "JSONB",
	"STRUCT":    "JSONB",
}

func columnDDL(f warehouse.FieldSpec) string {
	typ, ok := columnTypes[strings.ToUpper(f.Type)]
	if !ok {
		typ = "TEXT"
	}
	switch strings.ToUpper(f.Mode) {
	case "REPEATED":
		typ += "[]"
	case "REQUIRED":
		typ += " NOT NULL"
	}
	return pq.QuoteIdentifier(f.Name) + " " + typ
}

type job struct {
	id   string
	done chan struct{}
	errs []warehouse.JobError
	err  error
}

func (j *job) ID() string {
	return j.id
}

func (j *job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return warehouse.NewInfrastructureError("wait", ctx.Err())
	}
}

// Errors must only be called after Wait returned.
func (j *job) Errors() []warehouse.JobError {
	select {
	case <-j.done:
		return j.errs
	default:
		return nil
	}
}
