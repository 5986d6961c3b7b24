package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/liamcoop/curation/warehouse"
)

func TestQuerySpecValidate(t *testing.T) {
	testCases := []struct {
		name    string
		spec    QuerySpec
		wantErr bool
	}{
		{"Query only", QuerySpec{Query: "SELECT 1"}, false},
		{"Full destination", QuerySpec{Query: "SELECT 1", DestinationDataset: "d", DestinationTable: "t"}, false},
		{"Append disposition", QuerySpec{Query: "SELECT 1", DestinationDataset: "d", DestinationTable: "t", WriteDisposition: warehouse.WriteAppend}, false},
		{"Empty query", QuerySpec{}, true},
		{"Whitespace query", QuerySpec{Query: "  \n"}, true},
		{"Table without dataset", QuerySpec{Query: "SELECT 1", DestinationTable: "t"}, true},
		{"Dataset without table", QuerySpec{Query: "SELECT 1", DestinationDataset: "d"}, true},
		{"Unknown disposition", QuerySpec{Query: "SELECT 1", DestinationDataset: "d", DestinationTable: "t", WriteDisposition: "WRITE_SOMETIMES"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr {
				var specErr *InvalidQuerySpecError
				if !errors.As(err, &specErr) {
					t.Errorf("expected InvalidQuerySpecError, got %v", err)
				}
			} else if err != nil {
				t.Errorf("Validate() failed: %v", err)
			}
		})
	}
}

// TestJobConfigRejectsTableWithoutDataset verifies rejection happens before a config is built
func TestJobConfigRejectsTableWithoutDataset(t *testing.T) {
	spec := QuerySpec{Query: "SELECT 1", DestinationTable: "t"}

	cfg, err := spec.JobConfig("p")
	if err == nil {
		t.Fatal("expected an error for destination table without dataset")
	}
	if cfg.Destination != nil {
		t.Error("no destination should be built for an invalid spec")
	}
	if !strings.Contains(err.Error(), "destination dataset") {
		t.Errorf("error should mention the missing dataset, got %v", err)
	}
}

func TestJobConfig(t *testing.T) {
	t.Run("Legacy SQL without destination", func(t *testing.T) {
		spec := QuerySpec{Query: "SELECT 1", UseLegacySQL: true}
		if !spec.AllowLargeResults() {
			t.Error("AllowLargeResults() should equal UseLegacySQL")
		}
		cfg, err := spec.JobConfig("p")
		if err != nil {
			t.Fatalf("JobConfig() failed: %v", err)
		}
		if !cfg.UseLegacySQL {
			t.Errorf("expected legacy SQL, got %+v", cfg)
		}
		if cfg.AllowLargeResults || cfg.Destination != nil {
			t.Errorf("large results need a destination table, got %+v", cfg)
		}
	})

	t.Run("Legacy SQL with destination allows large results", func(t *testing.T) {
		cfg, err := QuerySpec{Query: "SELECT 1", UseLegacySQL: true, DestinationDataset: "d", DestinationTable: "t"}.JobConfig("p")
		if err != nil {
			t.Fatalf("JobConfig() failed: %v", err)
		}
		if !cfg.UseLegacySQL || !cfg.AllowLargeResults || cfg.Destination == nil {
			t.Errorf("expected legacy SQL with large results, got %+v", cfg)
		}
	})

	t.Run("Standard SQL", func(t *testing.T) {
		cfg, err := QuerySpec{Query: "SELECT 1"}.JobConfig("p")
		if err != nil {
			t.Fatalf("JobConfig() failed: %v", err)
		}
		if cfg.UseLegacySQL || cfg.AllowLargeResults {
			t.Errorf("expected standard SQL without large results, got %+v", cfg)
		}
		if cfg.Destination != nil || cfg.WriteDisposition != "" {
			t.Errorf("expected no destination override, got %+v", cfg)
		}
	})

	t.Run("Destination defaults to write empty", func(t *testing.T) {
		cfg, err := QuerySpec{Query: "SELECT 1", DestinationDataset: "d", DestinationTable: "t"}.JobConfig("p")
		if err != nil {
			t.Fatalf("JobConfig() failed: %v", err)
		}
		want := warehouse.TableRef{ProjectID: "p", DatasetID: "d", TableID: "t"}
		if cfg.Destination == nil || *cfg.Destination != want {
			t.Errorf("Destination = %v, want %v", cfg.Destination, want)
		}
		if cfg.WriteDisposition != warehouse.WriteEmpty {
			t.Errorf("WriteDisposition = %q, want %q", cfg.WriteDisposition, warehouse.WriteEmpty)
		}
	})

	t.Run("Destination keeps disposition", func(t *testing.T) {
		cfg, err := QuerySpec{Query: "SELECT 1", DestinationDataset: "d", DestinationTable: "t", WriteDisposition: warehouse.WriteTruncate}.JobConfig("p")
		if err != nil {
			t.Fatalf("JobConfig() failed: %v", err)
		}
		if cfg.WriteDisposition != warehouse.WriteTruncate {
			t.Errorf("WriteDisposition = %q, want %q", cfg.WriteDisposition, warehouse.WriteTruncate)
		}
	})
}

func TestMetadataJobIDPrefix(t *testing.T) {
	testCases := []struct {
		name string
		info Metadata
		want string
	}{
		{"Short rule name", Metadata{Rule: "qrid"}, "qrid_"},
		{"Truncated rule name", Metadata{Rule: "drop_zero_concept_ids"}, "drop_zero__"},
		{"Falls back to module", Metadata{Rule: Unknown, ModuleName: "github.com/x/cleaningrules"}, "cleaningru_"},
		{"Everything unknown", Metadata{Rule: Unknown, ModuleName: Unknown}, "unknown_"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.info.JobIDPrefix(); got != tc.want {
				t.Errorf("JobIDPrefix() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeclarationValidate(t *testing.T) {
	legacy := func(string, string, string, Options) ([]QuerySpec, error) { return nil, nil }
	structured := func(Target, Options) (Rule, error) { return nil, nil }

	testCases := []struct {
		name      string
		decl      Declaration
		wantErr   bool
		wantShape bool
	}{
		{"Legacy", Declaration{Name: "l", Legacy: legacy}, false, false},
		{"Structured", Declaration{Name: "s", New: structured}, false, false},
		{"No name", Declaration{Legacy: legacy}, true, false},
		{"Neither shape", Declaration{Name: "n"}, true, true},
		{"Both shapes", Declaration{Name: "b", Legacy: legacy, New: structured}, true, true},
		{"Required with default", Declaration{Name: "r", Legacy: legacy, Params: []Param{{Name: "x", Required: true, Default: 1}}}, true, false},
		{"Duplicate param", Declaration{Name: "d", Legacy: legacy, Params: []Param{{Name: "x"}, {Name: "x"}}}, true, false},
		{"Unnamed param", Declaration{Name: "u", Legacy: legacy, Params: []Param{{Required: true}}}, true, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.decl.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			var shapeErr *UnsupportedRuleShapeError
			if errors.As(err, &shapeErr) != tc.wantShape {
				t.Errorf("UnsupportedRuleShapeError = %v, want %v (err %v)", !tc.wantShape, tc.wantShape, err)
			}
		})
	}
}

func TestOptionsString(t *testing.T) {
	opts := Options{"s": "value", "n": 42, "nil": nil}

	if v, ok := opts.String("s"); !ok || v != "value" {
		t.Errorf(`String("s") = %q, %v`, v, ok)
	}
	if v, ok := opts.String("n"); !ok || v != "42" {
		t.Errorf(`String("n") = %q, %v`, v, ok)
	}
	if _, ok := opts.String("nil"); ok {
		t.Error(`String("nil") should report false`)
	}
	if _, ok := opts.String("absent"); ok {
		t.Error(`String("absent") should report false`)
	}
}

func TestTargetValidate(t *testing.T) {
	if err := testTarget.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
	err := Target{ProjectID: "p"}.Validate()
	if err == nil {
		t.Fatal("expected an error for a target without datasets")
	}
	for _, name := range []string{ParamDatasetID, ParamSandboxDatasetID} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q should name %s", err, name)
		}
	}
}

// TestTargetValidate_Identifiers verifies identifiers that would break out
// of a backticked table reference are rejected
func TestTargetValidate_Identifiers(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{"Hyphenated project", Target{ProjectID: "test-project", DatasetID: "d", SandboxDatasetID: "s"}, ""},
		{"Table namer", Target{ProjectID: "p", DatasetID: "d", SandboxDatasetID: "s", TableNamer: "rdr"}, ""},
		{"Backtick in dataset", Target{ProjectID: "p", DatasetID: "d`;DROP", SandboxDatasetID: "s"}, ParamDatasetID},
		{"Escaped table reference", Target{ProjectID: "p", DatasetID: "d.person` WHERE TRUE; DROP TABLE `p.d.person", SandboxDatasetID: "s"}, ParamDatasetID},
		{"Semicolon in sandbox", Target{ProjectID: "p", DatasetID: "d", SandboxDatasetID: "s;"}, ParamSandboxDatasetID},
		{"Dot in project", Target{ProjectID: "p.d", DatasetID: "d", SandboxDatasetID: "s"}, ParamProjectID},
		{"Backtick in project", Target{ProjectID: "p`", DatasetID: "d", SandboxDatasetID: "s"}, ParamProjectID},
		{"Hyphen in dataset", Target{ProjectID: "p", DatasetID: "d-1", SandboxDatasetID: "s"}, ParamDatasetID},
		{"Dot in table namer", Target{ProjectID: "p", DatasetID: "d", SandboxDatasetID: "s", TableNamer: "a.b"}, ParamTableNamer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() should reject %+v", tt.target)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should name %s", err, tt.wantErr)
			}
		})
	}
}
