package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven/mocks"
	"github.com/carebridge-labs/carebridge-core/internal/core/services"
)

const testAPISecret = "operator-secret"

type fixture struct {
	server      *Server
	jobs        *mocks.MockJobQueue
	bindings    *mocks.MockBindingStore
	checkpoints *mocks.MockCheckpointStore
	admin       *services.Admin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	jobs := mocks.NewMockJobQueue()
	bindings := mocks.NewMockBindingStore()
	checkpoints := mocks.NewMockCheckpointStore()
	records := mocks.NewMockRecordStore()
	lock := mocks.NewMockRecordLock()

	registry := services.NewRegistry(services.RegistryConfig{
		Bindings: bindings,
		Records:  records,
		Jobs:     jobs,
		Lock:     lock,
		Logger:   logger,
	})

	backend := &domain.Backend{ID: "bk-1", Kind: "test", Enabled: true}
	registry.Register(backend, &domain.Descriptor{
		EntityType:     "partner",
		ExternalEntity: "Customer",
		KeyField:       "id",
	}, mocks.NewMockBackend())

	admin := services.NewAdmin(registry, jobs, bindings, checkpoints, logger)

	cfg := DefaultConfig()
	cfg.APISecret = testAPISecret
	server := NewServer(cfg, admin, jobs, nil, nil, nil, logger)

	return &fixture{
		server:      server,
		jobs:        jobs,
		bindings:    bindings,
		checkpoints: checkpoints,
		admin:       admin,
	}
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testAPISecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (f *fixture) request(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAPIRejectsMissingToken(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/queue/stats", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAPIRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec := f.request(t, http.MethodGet, "/api/v1/queue/stats", nil, forged)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAPIRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(testAPISecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec := f.request(t, http.MethodGet, "/api/v1/queue/stats", nil, expired)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestSubmitImportJob(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{
		Kind:        "import_record",
		BackendID:   "bk-1",
		EntityType:  "partner",
		ExternalKey: "42",
	}, operatorToken(t))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var job domain.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.Kind != domain.JobImportRecord || job.ExternalKey != "42" {
		t.Errorf("job = %+v", job)
	}

	queued := f.jobs.Enqueued()
	if len(queued) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(queued))
	}
}

func TestSubmitJobUnknownPipeline(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{
		Kind:        "import_record",
		BackendID:   "bk-1",
		EntityType:  "unknown",
		ExternalKey: "42",
	}, operatorToken(t))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(f.jobs.Enqueued()) != 0 {
		t.Error("job must not be enqueued for unknown pipeline")
	}
}

func TestSubmitJobValidation(t *testing.T) {
	f := newFixture(t)
	token := operatorToken(t)

	cases := []SubmitJobRequest{
		{Kind: "bogus", BackendID: "bk-1", EntityType: "partner"},
		{Kind: "import_record", BackendID: "bk-1", EntityType: "partner"}, // no external key
		{Kind: "export_record", BackendID: "bk-1", EntityType: "partner"}, // no local id
		{Kind: "import_record", EntityType: "partner", ExternalKey: "1"},  // no backend
	}

	for _, req := range cases {
		rec := f.request(t, http.MethodPost, "/api/v1/jobs", req, token)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("request %+v: status = %d, want 400", req, rec.Code)
		}
	}
}

func TestGetJobStatus(t *testing.T) {
	f := newFixture(t)
	token := operatorToken(t)

	job := domain.NewImportJob("bk-1", "partner", "42", false)
	if err := f.admin.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	rec := f.request(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got domain.Job
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != job.ID || got.Status != domain.JobStatusPending {
		t.Errorf("job = %+v", got)
	}

	rec = f.request(t, http.MethodGet, "/api/v1/jobs/missing", nil, token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t)

	f.admin.Submit(context.Background(), domain.NewImportJob("bk-1", "partner", "1", false))

	rec := f.request(t, http.MethodGet, "/api/v1/queue/stats", nil, operatorToken(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats struct {
		PendingCount int64 `json:"pending_count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.PendingCount != 1 {
		t.Errorf("pending = %d, want 1", stats.PendingCount)
	}
}

func TestListBindingsRequiresScope(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/bindings", nil, operatorToken(t))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = f.request(t, http.MethodGet, "/api/v1/bindings?backend_id=bk-1&entity_type=partner", nil, operatorToken(t))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	f := newFixture(t)
	token := operatorToken(t)

	cp := domain.NewCheckpoint("bk-1", "partner", "validation failed")
	if err := f.checkpoints.Flag(context.Background(), cp); err != nil {
		t.Fatalf("Flag() error = %v", err)
	}

	rec := f.request(t, http.MethodGet, "/api/v1/checkpoints?backend_id=bk-1&unresolved=true", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var listing struct {
		Checkpoints []*domain.Checkpoint `json:"checkpoints"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listing)
	if len(listing.Checkpoints) != 1 {
		t.Fatalf("got %d checkpoints, want 1", len(listing.Checkpoints))
	}

	rec = f.request(t, http.MethodPost, "/api/v1/checkpoints/"+cp.ID+"/resolve", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, want 200", rec.Code)
	}

	rec = f.request(t, http.MethodGet, "/api/v1/checkpoints?backend_id=bk-1&unresolved=true", nil, token)
	var after struct {
		Checkpoints []*domain.Checkpoint `json:"checkpoints"`
	}
	json.Unmarshal(rec.Body.Bytes(), &after)
	if len(after.Checkpoints) != 0 {
		t.Errorf("got %d unresolved checkpoints after resolve, want 0", len(after.Checkpoints))
	}

	rec = f.request(t, http.MethodPost, "/api/v1/checkpoints/missing/resolve", nil, token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("resolve missing status = %d, want 404", rec.Code)
	}
}
