package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
)

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := s.jobQueue.Ping(r.Context()); err != nil {
		checks["queue"] = err.Error()
		healthy = false
	} else {
		checks["queue"] = "ok"
	}

	if s.recordStore != nil {
		if err := s.recordStore.Ping(r.Context()); err != nil {
			checks["records"] = err.Error()
			healthy = false
		} else {
			checks["records"] = "ok"
		}
	}

	if s.lock != nil {
		if err := s.lock.Ping(r.Context()); err != nil {
			checks["lock"] = err.Error()
			healthy = false
		} else {
			checks["lock"] = "ok"
		}
	}

	if s.worker != nil {
		h := s.worker.Health(r.Context())
		if h.Running {
			checks["worker"] = "ok"
		} else {
			checks["worker"] = "not running"
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Job endpoints

// SubmitJobRequest is the manual job submission payload.
type SubmitJobRequest struct {
	Kind        string         `json:"kind"`
	BackendID   string         `json:"backend_id"`
	EntityType  string         `json:"entity_type"`
	ExternalKey string         `json:"external_key,omitempty"`
	LocalID     string         `json:"local_id,omitempty"`
	Force       bool           `json:"force,omitempty"`
	Fields      []string       `json:"fields,omitempty"`
	Filters     map[string]any `json:"filters,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BackendID == "" || req.EntityType == "" {
		writeError(w, http.StatusBadRequest, "backend_id and entity_type are required")
		return
	}

	var job *domain.Job
	switch domain.JobKind(req.Kind) {
	case domain.JobImportRecord:
		if req.ExternalKey == "" {
			writeError(w, http.StatusBadRequest, "external_key is required for import_record")
			return
		}
		job = domain.NewImportJob(req.BackendID, req.EntityType, req.ExternalKey, req.Force)
	case domain.JobImportBatch:
		job = domain.NewBatchImportJob(req.BackendID, req.EntityType, req.Filters)
	case domain.JobExportRecord:
		if req.LocalID == "" {
			writeError(w, http.StatusBadRequest, "local_id is required for export_record")
			return
		}
		job = domain.NewExportJob(req.BackendID, req.EntityType, req.LocalID, req.Fields)
	case domain.JobDeleteRecord:
		if req.ExternalKey == "" {
			writeError(w, http.StatusBadRequest, "external_key is required for delete_record")
			return
		}
		job = domain.NewDeleteJob(req.BackendID, req.EntityType, req.ExternalKey)
	default:
		writeError(w, http.StatusBadRequest, "unknown job kind")
		return
	}

	if err := s.admin.Submit(r.Context(), job); err != nil {
		if errors.Is(err, domain.ErrPipelineNotFound) {
			writeError(w, http.StatusNotFound, "no pipeline registered for backend/entity")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.admin.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// Queue inspection

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobQueue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Binding inspection

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backend_id")
	entityType := r.URL.Query().Get("entity_type")
	if backendID == "" || entityType == "" {
		writeError(w, http.StatusBadRequest, "backend_id and entity_type are required")
		return
	}

	bindings, err := s.admin.Bindings(r.Context(), backendID, entityType, queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
}

// Checkpoint endpoints

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backend_id")
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"

	checkpoints, err := s.admin.Checkpoints(r.Context(), backendID, unresolvedOnly, queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": checkpoints})
}

func (s *Server) handleResolveCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.ResolveCheckpoint(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "checkpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// Helper functions

func queryInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(name))
	return v
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
