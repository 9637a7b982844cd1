package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/engine"
	"github.com/taipei-doit/vismatch-svc/internal/models"
	"github.com/taipei-doit/vismatch-svc/internal/registry"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	var query models.MatchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("project", project), zap.Int("k", query.K))
	response, err := s.engine.Query(r.Context(), project, &query)
	if err != nil {
		s.respondEngineError(w, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ingest request", zap.String("project", project), zap.String("identifier", req.Identifier))
	response, err := s.engine.Ingest(r.Context(), project, &req)
	if err != nil {
		s.respondEngineError(w, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, response)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	identifier := chi.URLParam(r, "identifier")
	s.logger.Debug("remove request", zap.String("project", project), zap.String("identifier", identifier))
	if err := s.engine.Remove(r.Context(), project, identifier); err != nil {
		s.respondEngineError(w, "remove failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"project":    project,
		"identifier": identifier,
		"status":     "removed",
	})
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	s.logger.Debug("evict request", zap.String("project", project))
	if err := s.engine.Evict(project); err != nil {
		s.respondEngineError(w, "evict failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"project": project, "status": "evicted"})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	s.logger.Debug("delete project request", zap.String("project", project))
	if err := s.engine.DeleteProject(r.Context(), project); err != nil {
		s.respondEngineError(w, "delete project failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"project": project, "status": "deleted"})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	infos, err := s.engine.Projects(r.Context())
	if err != nil {
		s.logger.Error("list projects failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"projects": infos,
		"total":    len(infos),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cached, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Error("status: count fingerprints failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	infos, err := s.engine.Projects(ctx)
	if err != nil {
		s.logger.Error("status: list projects failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	loaded := 0
	records := 0
	for _, info := range infos {
		if info.Loaded {
			loaded++
			records += info.Records
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"projects":            len(infos),
		"loaded_projects":     loaded,
		"indexed_records":     records,
		"cached_fingerprints": cached,
		"uptime_seconds":      int64(time.Since(s.started).Seconds()),
		"config": map[string]interface{}{
			"fingerprint_type": s.config.Fingerprint.Type,
			"hash_size":        s.config.Fingerprint.HashSize,
			"metric":           s.config.Search.Metric,
			"image_root":       s.config.Storage.ImageRoot,
			"database_path":    s.config.Storage.DatabasePath,
		},
	})
}

// respondEngineError maps the engine and registry error taxonomy to HTTP
// status codes.
func (s *Server) respondEngineError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidImage):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrDuplicateIdentifier):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrProjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrProjectUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
