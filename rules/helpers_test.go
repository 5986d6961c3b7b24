package rules

import (
	"context"
	"io"
	"log/slog"

	"github.com/liamcoop/curation/warehouse"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testTarget = Target{
	ProjectID:        "test-project",
	DatasetID:        "combined",
	SandboxDatasetID: "combined_sandbox",
}

// stubRule is a structured rule returning fixed queries.
type stubRule struct {
	BaseRule
	specs   []QuerySpec
	onSetup func(ctx context.Context, client warehouse.Client) error
}

func (r *stubRule) QuerySpecs() ([]QuerySpec, error) {
	return r.specs, nil
}

func (r *stubRule) Setup(ctx context.Context, client warehouse.Client) error {
	if r.onSetup != nil {
		return r.onSetup(ctx, client)
	}
	return nil
}

func toSpecs(queries []string) []QuerySpec {
	specs := make([]QuerySpec, 0, len(queries))
	for _, q := range queries {
		specs = append(specs, QuerySpec{Query: q})
	}
	return specs
}

func structuredDecl(name string, queries ...string) Declaration {
	return Declaration{
		Name:              name,
		AcceptsTableNamer: true,
		New: func(t Target, opts Options) (Rule, error) {
			return &stubRule{
				BaseRule: BaseRule{Target: t, IssueNumbers: []string{"DC1"}},
				specs:    toSpecs(queries),
			}, nil
		},
	}
}

func legacyDecl(name string, queries ...string) Declaration {
	return Declaration{
		Name: name,
		Legacy: func(projectID, datasetID, sandboxDatasetID string, opts Options) ([]QuerySpec, error) {
			return toSpecs(queries), nil
		},
	}
}
