package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"HCS-AuditAgent/internal/storage/mysql"
)

func newTestRepo(t *testing.T) *mysql.MemoryAuditRepository {
	t.Helper()
	repo, err := mysql.NewMemoryAuditRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new memory repo: %v", err)
	}
	return repo
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	server := NewServer(":0", newTestRepo(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHandleListAudits(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()
	for i, contractID := range []string{"0.0.1", "0.0.2", "0.0.3"} {
		record := mysql.AuditRecord{
			SessionID:  contractID,
			ContractID: contractID,
			Status:     "success",
			Score:      float64(50 + i),
			CreatedAt:  int64(1700000000 + i),
		}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save record: %v", err)
		}
	}

	server := NewServer(":0", repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/audits?limit=2", nil)
	rec := httptest.NewRecorder()
	server.handleListAudits(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var records []mysql.AuditRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("limit not applied: got %d records", len(records))
	}
}

func TestHandleListAuditsErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid method", func(t *testing.T) {
		server := NewServer(":0", newTestRepo(t))
		req := httptest.NewRequest(http.MethodPost, "/v1/audits", nil)
		rec := httptest.NewRecorder()

		server.handleListAudits(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("repo not configured", func(t *testing.T) {
		server := NewServer(":0", nil)
		req := httptest.NewRequest(http.MethodGet, "/v1/audits", nil)
		rec := httptest.NewRecorder()

		server.handleListAudits(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})
}
