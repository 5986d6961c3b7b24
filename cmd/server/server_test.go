package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liamcoop/curation/internal/app"
	"github.com/liamcoop/curation/internal/config"
	"github.com/liamcoop/curation/ledger"
	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/warehouse"
	"github.com/liamcoop/curation/warehouse/warehousetest"
)

const testStages = `
stages:
  - name: combined
    options:
      cutoff_date: "2022-01-01"
    rules:
      - rule: drop_zero_concept_ids
      - rule: covid_ehr_vaccine_concept_suppression
        when: dataset == "combined"
`

var testTarget = map[string]any{
	"project_id":         "test-project",
	"dataset_id":         "combined",
	"sandbox_dataset_id": "combined_sandbox",
}

// newTestServer starts the API over a fake warehouse. store may be nil for
// the in-memory ledger.
func newTestServer(t *testing.T, client *warehousetest.Client, store ledger.Store) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stages.yaml")
	if err := os.WriteFile(path, []byte(testStages), 0o600); err != nil {
		t.Fatalf("Failed to write stages file: %v", err)
	}

	cfg := config.Config{
		Warehouse:  config.Warehouse{Driver: config.WarehouseBigQuery},
		Ledger:     config.Ledger{Driver: config.LedgerMemory},
		Server:     config.Server{RunTimeout: time.Minute, PreviewCache: rules.DefaultCacheConfig()},
		StagesFile: path,
	}
	opts := []app.Option{app.WithClientFactory(rules.StaticClient(client))}
	if store != nil {
		opts = append(opts, app.WithLedger(store))
	}
	a, err := app.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}

	ts := httptest.NewServer(NewServer(a))
	t.Cleanup(func() {
		ts.Close()
		a.Close()
	})
	return ts.URL
}

func withTarget(extra map[string]any) map[string]any {
	body := map[string]any{}
	for k, v := range testTarget {
		body[k] = v
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

// TestHealthAndCatalogue verifies the read-only endpoints
func TestHealthAndCatalogue(t *testing.T) {
	baseURL := newTestServer(t, warehousetest.NewClient("test-project"), nil) + "/api/v1"

	status, health := doRequest(t, http.MethodGet, baseURL+"/health", nil)
	if status != http.StatusOK || health["status"] != "healthy" {
		t.Fatalf("health = %d %v", status, health)
	}
	if health["rules"] != float64(4) || health["stages"] != float64(1) {
		t.Errorf("health counts = %v", health)
	}

	status, list := doRequest(t, http.MethodGet, baseURL+"/rules", nil)
	if status != http.StatusOK {
		t.Fatalf("list rules status = %d", status)
	}
	if got := len(list["rules"].([]any)); got != 4 {
		t.Errorf("listed %d rules, want 4", got)
	}

	status, rule := doRequest(t, http.MethodGet, baseURL+"/rules/qrid_to_rid", nil)
	if status != http.StatusOK || rule["kind"] != "structured" {
		t.Fatalf("get rule = %d %v", status, rule)
	}
	params := rule["params"].([]any)
	if len(params) != 1 || params[0].(map[string]any)["required"] != true {
		t.Errorf("params = %v", params)
	}

	status, _ = doRequest(t, http.MethodGet, baseURL+"/rules/nope", nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown rule status = %d", status)
	}

	status, stage := doRequest(t, http.MethodGet, baseURL+"/stages/combined", nil)
	if status != http.StatusOK || len(stage["rules"].([]any)) != 2 {
		t.Errorf("get stage = %d %v", status, stage)
	}
	status, _ = doRequest(t, http.MethodGet, baseURL+"/stages/nope", nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown stage status = %d", status)
	}
}

// TestPreview verifies queries are planned without touching the warehouse
// and that the second identical request is served from the cache
func TestPreview(t *testing.T) {
	client := warehousetest.NewClient("test-project")
	baseURL := newTestServer(t, client, nil) + "/api/v1"

	body := withTarget(map[string]any{"stage": "combined"})
	status, first := doRequest(t, http.MethodPost, baseURL+"/preview", body)
	if status != http.StatusOK {
		t.Fatalf("preview status = %d: %v", status, first)
	}
	if first["cached"] != false || len(first["rules"].([]any)) != 2 {
		t.Errorf("first preview = %v", first)
	}

	_, second := doRequest(t, http.MethodPost, baseURL+"/preview", body)
	if second["cached"] != true {
		t.Errorf("second preview should be cached: %v", second)
	}

	status, _ = doRequest(t, http.MethodDelete, baseURL+"/preview/cache", nil)
	if status != http.StatusNoContent {
		t.Errorf("invalidate status = %d", status)
	}
	_, third := doRequest(t, http.MethodPost, baseURL+"/preview", body)
	if third["cached"] != false {
		t.Errorf("preview after invalidate should miss: %v", third)
	}

	if len(client.Submissions()) != 0 {
		t.Errorf("preview submitted %d queries", len(client.Submissions()))
	}
}

// TestPreview_BadRequests verifies request validation
func TestPreview_BadRequests(t *testing.T) {
	baseURL := newTestServer(t, warehousetest.NewClient("test-project"), nil) + "/api/v1"

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"missing target", map[string]any{"rules": []string{"drop_zero_concept_ids"}}, http.StatusBadRequest},
		{"escaped dataset", withTarget(map[string]any{
			"dataset_id": "combined.person` WHERE TRUE; DROP TABLE `test-project.combined.person",
			"rules":      []string{"drop_zero_concept_ids"},
		}), http.StatusBadRequest},
		{"no selection", withTarget(nil), http.StatusBadRequest},
		{"unknown rule", withTarget(map[string]any{"rules": []string{"nope"}}), http.StatusBadRequest},
		{"missing parameter", withTarget(map[string]any{"rules": []string{"qrid_to_rid"}}), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := doRequest(t, http.MethodPost, baseURL+"/preview", tt.body)
			if status != tt.status {
				t.Errorf("status = %d, want %d: %v", status, tt.status, resp)
			}
			if resp["error"] == nil {
				t.Errorf("response has no error: %v", resp)
			}
		})
	}

	resp, err := http.Post(baseURL+"/preview", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("Failed to post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}
}

// TestRunAndFetch verifies a run is executed, recorded and retrievable
func TestRunAndFetch(t *testing.T) {
	client := warehousetest.NewClient("test-project")
	baseURL := newTestServer(t, client, nil) + "/api/v1"

	status, resp := doRequest(t, http.MethodPost, baseURL+"/runs",
		withTarget(map[string]any{"rules": []string{"drop_zero_concept_ids"}}))
	if status != http.StatusCreated {
		t.Fatalf("run status = %d: %v", status, resp)
	}
	run := resp["run"].(map[string]any)
	if run["status"] != "succeeded" || len(run["jobs"].([]any)) != 14 {
		t.Errorf("run = %v", run)
	}
	if len(client.Submissions()) != 14 {
		t.Errorf("submitted %d queries, want 14", len(client.Submissions()))
	}

	runID := run["id"].(string)
	status, fetched := doRequest(t, http.MethodGet, baseURL+"/runs/"+runID, nil)
	if status != http.StatusOK || fetched["id"] != runID {
		t.Errorf("get run = %d %v", status, fetched)
	}

	status, list := doRequest(t, http.MethodGet, baseURL+"/runs?limit=10", nil)
	if status != http.StatusOK || len(list["runs"].([]any)) != 1 {
		t.Errorf("list runs = %d %v", status, list)
	}

	status, _ = doRequest(t, http.MethodGet, baseURL+"/runs/missing", nil)
	if status != http.StatusNotFound {
		t.Errorf("missing run status = %d", status)
	}
	status, _ = doRequest(t, http.MethodGet, baseURL+"/runs?limit=zero", nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", status)
	}
}

// TestRun_Failure verifies a failed run still returns and records its state
func TestRun_Failure(t *testing.T) {
	client := warehousetest.NewClient("test-project")
	client.FailAt(0, warehousetest.Outcome{
		JobErrors: []warehouse.JobError{{Reason: "invalidQuery", Message: "boom"}},
	})
	baseURL := newTestServer(t, client, nil) + "/api/v1"

	status, resp := doRequest(t, http.MethodPost, baseURL+"/runs",
		withTarget(map[string]any{"rules": []string{"drop_zero_concept_ids"}}))
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("run status = %d: %v", status, resp)
	}
	if !strings.Contains(resp["error"].(string), "boom") {
		t.Errorf("error = %v", resp["error"])
	}
	run := resp["run"].(map[string]any)
	if run["status"] != "failed" || len(run["jobs"].([]any)) != 1 {
		t.Errorf("run = %v", run)
	}

	status, fetched := doRequest(t, http.MethodGet, baseURL+"/runs/"+run["id"].(string), nil)
	if status != http.StatusOK || fetched["status"] != "failed" {
		t.Errorf("recorded run = %d %v", status, fetched)
	}
}

// TestMetricsEndpoint verifies run metrics are exposed
func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, warehousetest.NewClient("test-project"), nil)
	doRequest(t, http.MethodPost, ts+"/api/v1/runs",
		withTarget(map[string]any{"rules": []string{"drop_zero_concept_ids"}}))

	resp, err := http.Get(ts + "/metrics")
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `curation_runs_total{dataset="combined",status="succeeded"} 1`) {
		t.Errorf("metrics output missing run counter:\n%s", raw)
	}
}

// doRequest sends body as JSON and decodes a JSON object response. A 204
// yields a nil map.
func doRequest(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp.StatusCode, result
}

// Helper function to make raw HTTP requests
func makeHTTPRequest(method, url string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}
