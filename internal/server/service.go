package server

import (
	"context"
	"net/http"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/metrics"
	"github.com/matt-riley/surveyz/internal/repository"
	"github.com/matt-riley/surveyz/internal/service"
)

// Service is the SDK-facing surface used by the public HTTP API and the gRPC
// TriggerService. Every call is scoped to the project resolved from the
// caller's API key.
type Service interface {
	GetConfig(ctx context.Context, projectID string) (core.Config, error)
	OnEvent(ctx context.Context, projectID, name string, value *string) (core.MatchResult, bool, error)
	PageOpened(ctx context.Context, projectID, page string) (core.MatchResult, bool, error)
	ListEventsSince(ctx context.Context, projectID string, eventID int64) ([]repository.PlanEvent, error)
}

// AdminService adds plan and SDK config management.
type AdminService interface {
	Service
	CreatePlan(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error)
	UpdatePlan(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error)
	GetPlan(ctx context.Context, projectID, id string) (repository.SurveyPlan, error)
	ListPlans(ctx context.Context, projectID string) ([]repository.SurveyPlan, error)
	DeletePlan(ctx context.Context, projectID, id string) error
	GetSDKConfig(ctx context.Context, projectID string) (core.SDKConfig, error)
	PutSDKConfig(ctx context.Context, projectID string, cfg core.SDKConfig) (core.SDKConfig, error)
}

// ProjectStore manages projects and their API keys.
type ProjectStore interface {
	CreateProject(ctx context.Context, name, description string) (repository.Project, error)
	ListProjects(ctx context.Context) ([]repository.Project, error)
	GetProject(ctx context.Context, id string) (repository.Project, error)
	CreateAPIKey(ctx context.Context, projectID, name string) (string, string, error)
	ListAPIKeys(ctx context.Context, projectID string) ([]repository.APIKeyMeta, error)
	RevokeAPIKey(ctx context.Context, projectID, keyID string) error
}

// Metrics receives transport-level observations.
type Metrics interface {
	Handler() http.Handler
	ObserveHTTPRequest(method, route string, status int, elapsed time.Duration)
	StreamOpened(transport string)
	StreamClosed(transport string)
}

var (
	_ AdminService = (*service.Service)(nil)
	_ ProjectStore = (*repository.PostgresRepository)(nil)
	_ Metrics      = (*metrics.Metrics)(nil)
)
