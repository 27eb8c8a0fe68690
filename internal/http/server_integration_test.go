//go:build integration
// +build integration

package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"evalpipe/internal/config"
	"evalpipe/internal/logging"
	"evalpipe/internal/repo/postgres/testdb"
	"evalpipe/internal/schema"
)

func TestIngestEventsThenListAnomaliesEmpty(t *testing.T) {
	pool, cleanup := testdb.NewDatabase(t)
	defer cleanup()

	gin.SetMode(gin.TestMode)
	registry := schema.NewRegistry()
	srv := NewServer(config.Config{}, pool, registry, nil, logging.Noop())
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	tenantID := uuid.NewString()
	runID := uuid.NewString()
	body := []map[string]any{{
		"schema_version":        "v1",
		"type":                  "OrchestrationRunStarted",
		"event_id":              uuid.NewString(),
		"tenant_id":             tenantID,
		"orchestration_run_id":  runID,
		"workflow_id":           "wf-1",
		"event_time":            time.Now().UTC().Format(time.RFC3339Nano),
		"query":                 "what is the capital of France?",
	}}
	payload, _ := json.Marshal(body)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/events", bytes.NewReader(payload))
	req.Header.Set("X-Tenant-Id", tenantID)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected ingest status: %d", resp.StatusCode)
	}

	var ingestResp struct {
		OK             bool `json:"ok"`
		InsertedEvents int  `json:"inserted_events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ingestResp); err != nil {
		t.Fatalf("decode ingest response: %v", err)
	}
	if !ingestResp.OK || ingestResp.InsertedEvents != 1 {
		t.Fatalf("unexpected ingest response: %+v", ingestResp)
	}

	getReq, _ := http.NewRequest(http.MethodGet, ts.URL+"/anomalies", nil)
	getReq.Header.Set("X-Tenant-Id", tenantID)
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("get anomalies: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected anomalies status: %d", getResp.StatusCode)
	}

	var anomalyResp tenantResponse
	if err := json.NewDecoder(getResp.Body).Decode(&anomalyResp); err != nil {
		t.Fatalf("decode anomalies response: %v", err)
	}
	if anomalyResp.TenantID != tenantID {
		t.Fatalf("tenant_id = %q, want %q", anomalyResp.TenantID, tenantID)
	}
}

func TestMissingTenantHeaderRejected(t *testing.T) {
	pool, cleanup := testdb.NewDatabase(t)
	defer cleanup()

	gin.SetMode(gin.TestMode)
	srv := NewServer(config.Config{}, pool, schema.NewRegistry(), nil, logging.Noop())
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/anomalies", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get anomalies: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
