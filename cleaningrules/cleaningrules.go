// Package cleaningrules holds the cleaning rules shipped with the engine.
package cleaningrules

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/warehouse"
)

// cutoffLayout is the accepted format of cutoff_date options
const cutoffLayout = "2006-01-02"

// Declarations returns every rule of the package, in no particular order
func Declarations() []rules.Declaration {
	return []rules.Declaration{
		DropZeroConceptIDsDeclaration(),
		QRIDToRIDDeclaration(),
		CovidEHRVaccineConceptSuppressionDeclaration(),
		RemoveRecordsAfterCutoffDeclaration(),
	}
}

// Register adds every rule of the package to registry
func Register(registry rules.Registry) error {
	for _, decl := range Declarations() {
		if err := registry.Register(decl); err != nil {
			return fmt.Errorf("failed to register %s: %w", decl.Name, err)
		}
	}
	return nil
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=error").Parse(strings.TrimSpace(text)))
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}

func parseCutoff(opts rules.Options) (string, error) {
	raw, ok := opts.String("cutoff_date")
	if !ok || raw == "" {
		return "", fmt.Errorf("cutoff_date cannot be empty")
	}
	d, err := time.Parse(cutoffLayout, raw)
	if err != nil {
		return "", fmt.Errorf("invalid cutoff_date %q, want YYYY-MM-DD: %w", raw, err)
	}
	return d.Format(cutoffLayout), nil
}

// runSetupQuery submits sql and waits for it to finish
func runSetupQuery(ctx context.Context, client warehouse.Client, sql string, cfg warehouse.JobConfig, info rules.Metadata) error {
	job, err := client.Query(ctx, sql, cfg, info.JobIDPrefix())
	if err != nil {
		return err
	}
	if err := job.Wait(ctx); err != nil {
		return err
	}
	if errs := job.Errors(); len(errs) > 0 {
		return &rules.QueryExecutionError{ProjectID: client.Project(), Info: info, JobID: job.ID(), Query: sql, Errors: errs}
	}
	return nil
}
