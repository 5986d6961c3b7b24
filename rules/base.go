package rules

import (
	"context"
	"strings"

	"github.com/liamcoop/curation/warehouse"
)

// BaseRule carries the descriptive fields shared by structured rules and
// default implementations of the optional capabilities. Rules embed it and
// override what they need.
type BaseRule struct {
	Target
	IssueNumbers     []string
	Description      string
	AffectedDatasets []string
	AffectedTables   []string
}

// SandboxTableFor names the sandbox table backing up rows of table:
// [<table namer>_]<first issue number>_<table>, lower case.
func (b *BaseRule) SandboxTableFor(table string) string {
	issue := "rule"
	if len(b.IssueNumbers) > 0 {
		issue = strings.ToLower(strings.ReplaceAll(b.IssueNumbers[0], "-", ""))
	}
	name := issue + "_" + table
	if b.TableNamer != "" {
		name = b.TableNamer + "_" + name
	}
	return name
}

// SandboxTableNames returns the sandbox table of every affected table.
func (b *BaseRule) SandboxTableNames() []string {
	names := make([]string, 0, len(b.AffectedTables))
	for _, t := range b.AffectedTables {
		names = append(names, b.SandboxTableFor(t))
	}
	return names
}

// Setup does nothing.
func (b *BaseRule) Setup(context.Context, warehouse.Client) error {
	return nil
}

func (b *BaseRule) SetupValidation(context.Context, warehouse.Client) error {
	return ErrNotImplemented
}

func (b *BaseRule) Validate(context.Context, warehouse.Client) error {
	return ErrNotImplemented
}

// Table returns the fully qualified name of table in the target dataset.
func (b *BaseRule) Table(table string) string {
	return "`" + b.ProjectID + "." + b.DatasetID + "." + table + "`"
}

// SandboxTable returns the fully qualified name of table in the sandbox
// dataset.
func (b *BaseRule) SandboxTable(table string) string {
	return "`" + b.ProjectID + "." + b.SandboxDatasetID + "." + table + "`"
}
