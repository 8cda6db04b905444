package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/middleware"
	"github.com/matt-riley/surveyz/internal/repository"
)

var errProjectNotFound = errors.New("project not found")

// AdminServer serves project, plan, SDK config and API key management. It
// carries no authentication of its own and is only ever exposed on the
// tailnet.
type AdminServer struct {
	service         AdminService
	projects        ProjectStore
	logger          *slog.Logger
	identify        func(*http.Request) string
	maxJSONBodySize int64
}

// AdminOption configures an [AdminServer].
type AdminOption func(*AdminServer)

func WithAdminLogger(logger *slog.Logger) AdminOption {
	return func(s *AdminServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAdminIdentity resolves the operator behind a request for the audit log.
func WithAdminIdentity(identify func(*http.Request) string) AdminOption {
	return func(s *AdminServer) { s.identify = identify }
}

func WithAdminMaxJSONBodySize(size int64) AdminOption {
	return func(s *AdminServer) {
		if size > 0 {
			s.maxJSONBodySize = size
		}
	}
}

type planRequest struct {
	ID                 string          `json:"id"`
	Position           int             `json:"position"`
	SurveyPresentation json.RawMessage `json:"surveyPresentation"`
	TriggerConditions  json.RawMessage `json:"triggerConditions"`
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type apiKeyRequest struct {
	Name string `json:"name"`
}

type apiKeyResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// NewAdminHandler returns the admin API handler.
func NewAdminHandler(svc AdminService, projects ProjectStore, opts ...AdminOption) http.Handler {
	if svc == nil || projects == nil {
		panic("admin dependencies are nil")
	}

	s := &AdminServer{
		service:         svc,
		projects:        projects,
		logger:          slog.Default(),
		maxJSONBodySize: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/v1/projects", s.handleCreateProject)
	mux.HandleFunc("GET /admin/v1/projects", s.handleListProjects)
	mux.HandleFunc("GET /admin/v1/projects/{project}", s.handleGetProject)
	mux.HandleFunc("POST /admin/v1/projects/{project}/plans", s.handleCreatePlan)
	mux.HandleFunc("GET /admin/v1/projects/{project}/plans", s.handleListPlans)
	mux.HandleFunc("GET /admin/v1/projects/{project}/plans/{id}", s.handleGetPlan)
	mux.HandleFunc("PUT /admin/v1/projects/{project}/plans/{id}", s.handleUpdatePlan)
	mux.HandleFunc("DELETE /admin/v1/projects/{project}/plans/{id}", s.handleDeletePlan)
	mux.HandleFunc("GET /admin/v1/projects/{project}/sdk-config", s.handleGetSDKConfig)
	mux.HandleFunc("PUT /admin/v1/projects/{project}/sdk-config", s.handlePutSDKConfig)
	mux.HandleFunc("POST /admin/v1/projects/{project}/api-keys", s.handleCreateAPIKey)
	mux.HandleFunc("GET /admin/v1/projects/{project}/api-keys", s.handleListAPIKeys)
	mux.HandleFunc("DELETE /admin/v1/projects/{project}/api-keys/{id}", s.handleRevokeAPIKey)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func (s *AdminServer) audit(r *http.Request, action, projectID string, attrs ...any) {
	actor := "unknown"
	if s.identify != nil {
		if id := s.identify(r); id != "" {
			actor = id
		}
	}
	logger := s.logger
	if _, ok := middleware.RequestIDFromContext(r.Context()); ok {
		logger = middleware.LoggerFromContext(r.Context())
	}
	args := append([]any{"action", action, "project_id", projectID, "actor", actor}, attrs...)
	logger.InfoContext(r.Context(), "admin action", args...)
}

func (s *AdminServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var request projectRequest
	if err := decodeJSONBody(w, r, &request, s.maxJSONBodySize); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(request.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	project, err := s.projects.CreateProject(r.Context(), strings.TrimSpace(request.Name), request.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.audit(r, "project.create", project.ID)
	writeJSON(w, http.StatusCreated, project)
}

func (s *AdminServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *AdminServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.projects.GetProject(r.Context(), r.PathValue("project"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *AdminServer) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}

	var request planRequest
	if err := decodeJSONBody(w, r, &request, s.maxJSONBodySize); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreatePlan(r.Context(), request.toRepository(projectID))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.audit(r, "plan.create", projectID, "plan_id", created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *AdminServer) handleListPlans(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}

	plans, err := s.service.ListPlans(r.Context(), projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *AdminServer) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.service.GetPlan(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *AdminServer) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project")
	id := strings.TrimSpace(r.PathValue("id"))

	var request planRequest
	if err := decodeJSONBody(w, r, &request, s.maxJSONBodySize); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(request.ID) != "" && strings.TrimSpace(request.ID) != id {
		writeJSONError(w, http.StatusBadRequest, "path id and body id must match")
		return
	}
	request.ID = id

	updated, err := s.service.UpdatePlan(r.Context(), request.toRepository(projectID))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.audit(r, "plan.update", projectID, "plan_id", updated.ID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *AdminServer) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project")
	id := r.PathValue("id")

	if err := s.service.DeletePlan(r.Context(), projectID, id); err != nil {
		s.writeError(w, err)
		return
	}

	s.audit(r, "plan.delete", projectID, "plan_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleGetSDKConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.service.GetSDKConfig(r.Context(), r.PathValue("project"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *AdminServer) handlePutSDKConfig(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}

	var request core.SDKConfig
	if err := decodeJSONBody(w, r, &request, s.maxJSONBodySize); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	stored, err := s.service.PutSDKConfig(r.Context(), projectID, request)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.audit(r, "sdk_config.put", projectID, "refresh_interval_sec", stored.RefreshIntervalSec)
	writeJSON(w, http.StatusOK, stored)
}

func (s *AdminServer) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}

	var request apiKeyRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &request, s.maxJSONBodySize); err != nil {
			writeJSONDecodeError(w, err)
			return
		}
	}

	keyID, secret, err := s.projects.CreateAPIKey(r.Context(), projectID, strings.TrimSpace(request.Name))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.audit(r, "api_key.create", projectID, "key_id", keyID)
	writeJSON(w, http.StatusCreated, apiKeyResponse{ID: keyID, Key: middleware.FormatAPIKey(keyID, secret)})
}

func (s *AdminServer) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.projects.ListAPIKeys(r.Context(), r.PathValue("project"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *AdminServer) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project")
	keyID := r.PathValue("id")

	if err := s.projects.RevokeAPIKey(r.Context(), projectID, keyID); err != nil {
		s.writeError(w, err)
		return
	}

	s.audit(r, "api_key.revoke", projectID, "key_id", keyID)
	w.WriteHeader(http.StatusNoContent)
}

// requireProject writes 404 and returns false when the path project does not
// exist.
func (s *AdminServer) requireProject(w http.ResponseWriter, r *http.Request) (string, bool) {
	project, err := s.projects.GetProject(r.Context(), r.PathValue("project"))
	if err != nil {
		s.writeError(w, err)
		return "", false
	}
	return project.ID, true
}

func (s *AdminServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = errProjectNotFound
	case errors.Is(err, repository.ErrProjectExists):
		writeJSONError(w, http.StatusConflict, "project already exists")
		return
	}
	status := httpStatusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("admin request failed", "error", err)
	}
	writeServiceError(w, err)
}

func (p planRequest) toRepository(projectID string) repository.SurveyPlan {
	return repository.SurveyPlan{
		ProjectID:         projectID,
		ID:                p.ID,
		Position:          p.Position,
		Presentation:      p.SurveyPresentation,
		TriggerConditions: p.TriggerConditions,
	}
}
