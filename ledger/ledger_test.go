package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/liamcoop/curation/objectstore"
	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/warehouse"
)

var _ Store = (*InMemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

func sampleRun(id string, started time.Time, failed bool) *rules.PipelineRun {
	run := &rules.PipelineRun{
		ID: id,
		Target: rules.Target{
			ProjectID:        "test-project",
			DatasetID:        "combined",
			SandboxDatasetID: "combined_sandbox",
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Jobs: []rules.QueryJobResult{
			{JobID: "drop_zero__1", Rule: "drop_zero_concept_ids", Query: "SELECT 1", State: rules.JobSucceeded},
		},
		Rules: []rules.RuleSummary{{Rule: "drop_zero_concept_ids", Queries: 1, Jobs: 1, Succeeded: !failed}},
	}
	if failed {
		run.Jobs = append(run.Jobs, rules.QueryJobResult{
			JobID: "drop_zero__2", Rule: "drop_zero_concept_ids", Query: "SELECT x", State: rules.JobFailed,
			Errors: []warehouse.JobError{{Reason: "invalidQuery", Message: "Unrecognized name: x"}},
		})
		run.Err = fmt.Errorf("query failed")
	}
	return run
}

// TestFromRun verifies a run is flattened into a Record
func TestFromRun(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := FromRun(sampleRun("run-1", start, true))

	if rec.Status != "failed" {
		t.Errorf("Status = %s, want failed", rec.Status)
	}
	if rec.Error != "query failed" {
		t.Errorf("Error = %q", rec.Error)
	}
	if rec.DatasetID != "combined" || rec.SandboxDatasetID != "combined_sandbox" {
		t.Errorf("unexpected target fields: %+v", rec)
	}
	if len(rec.Jobs) != 2 || len(rec.Rules) != 1 {
		t.Fatalf("jobs=%d rules=%d, want 2 and 1", len(rec.Jobs), len(rec.Rules))
	}

	ok := FromRun(sampleRun("run-2", start, false))
	if ok.Status != "succeeded" || ok.Error != "" {
		t.Errorf("unexpected success record: %+v", ok)
	}
}

// TestInMemoryStore verifies save, get, overwrite and list ordering
func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := FromRun(sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour), false))
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ID != "run-1" {
		t.Errorf("Get() ID = %s", got.ID)
	}

	failed := FromRun(sampleRun("run-1", base.Add(time.Hour), true))
	if err := store.Save(ctx, failed); err != nil {
		t.Fatalf("Save() overwrite failed: %v", err)
	}
	got, _ = store.Get(ctx, "run-1")
	if got.Status != "failed" {
		t.Errorf("overwritten status = %s, want failed", got.Status)
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "run-2" || list[1].ID != "run-1" {
		t.Errorf("List() order = %v", []string{list[0].ID, list[1].ID})
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := store.Save(ctx, Record{}); err == nil {
		t.Error("Save() without id should fail")
	}
}

// TestArchiver verifies manifests round trip through the object store
func TestArchiver(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore()
	archiver := NewArchiver(objects, "curation-runs", "prod")

	rec := FromRun(sampleRun("run-9", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), true))
	key, err := archiver.Archive(ctx, rec)
	if err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}
	if key != "prod/runs/test-project/combined/run-9.json" {
		t.Errorf("key = %s", key)
	}

	info, err := objects.Stat(ctx, "curation-runs", key)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if info.ContentType != "application/json" {
		t.Errorf("content type = %s", info.ContentType)
	}

	loaded, err := archiver.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.ID != rec.ID || len(loaded.Jobs) != 2 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Jobs[1].Errors[0].Reason != "invalidQuery" {
		t.Errorf("job errors not preserved: %+v", loaded.Jobs[1].Errors)
	}

	if _, err := archiver.Load(ctx, "prod/runs/missing.json"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("Load(missing) err = %v, want ErrNotFound", err)
	}
}
