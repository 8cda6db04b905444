package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/repository"
)

type fakeService struct {
	getConfigFunc       func(ctx context.Context, projectID string) (core.Config, error)
	onEventFunc         func(ctx context.Context, projectID, name string, value *string) (core.MatchResult, bool, error)
	pageOpenedFunc      func(ctx context.Context, projectID, page string) (core.MatchResult, bool, error)
	listEventsSinceFunc func(ctx context.Context, projectID string, eventID int64) ([]repository.PlanEvent, error)
	createPlanFunc      func(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error)
	updatePlanFunc      func(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error)
	getPlanFunc         func(ctx context.Context, projectID, id string) (repository.SurveyPlan, error)
	listPlansFunc       func(ctx context.Context, projectID string) ([]repository.SurveyPlan, error)
	deletePlanFunc      func(ctx context.Context, projectID, id string) error
	getSDKConfigFunc    func(ctx context.Context, projectID string) (core.SDKConfig, error)
	putSDKConfigFunc    func(ctx context.Context, projectID string, cfg core.SDKConfig) (core.SDKConfig, error)
}

func (f *fakeService) GetConfig(ctx context.Context, projectID string) (core.Config, error) {
	if f.getConfigFunc != nil {
		return f.getConfigFunc(ctx, projectID)
	}
	return core.Config{}, errors.New("GetConfig not implemented")
}

func (f *fakeService) OnEvent(ctx context.Context, projectID, name string, value *string) (core.MatchResult, bool, error) {
	if f.onEventFunc != nil {
		return f.onEventFunc(ctx, projectID, name, value)
	}
	return core.MatchResult{}, false, errors.New("OnEvent not implemented")
}

func (f *fakeService) PageOpened(ctx context.Context, projectID, page string) (core.MatchResult, bool, error) {
	if f.pageOpenedFunc != nil {
		return f.pageOpenedFunc(ctx, projectID, page)
	}
	return core.MatchResult{}, false, errors.New("PageOpened not implemented")
}

func (f *fakeService) ListEventsSince(ctx context.Context, projectID string, eventID int64) ([]repository.PlanEvent, error) {
	if f.listEventsSinceFunc != nil {
		return f.listEventsSinceFunc(ctx, projectID, eventID)
	}
	return nil, nil
}

func (f *fakeService) CreatePlan(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error) {
	if f.createPlanFunc != nil {
		return f.createPlanFunc(ctx, plan)
	}
	return repository.SurveyPlan{}, errors.New("CreatePlan not implemented")
}

func (f *fakeService) UpdatePlan(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error) {
	if f.updatePlanFunc != nil {
		return f.updatePlanFunc(ctx, plan)
	}
	return repository.SurveyPlan{}, errors.New("UpdatePlan not implemented")
}

func (f *fakeService) GetPlan(ctx context.Context, projectID, id string) (repository.SurveyPlan, error) {
	if f.getPlanFunc != nil {
		return f.getPlanFunc(ctx, projectID, id)
	}
	return repository.SurveyPlan{}, errors.New("GetPlan not implemented")
}

func (f *fakeService) ListPlans(ctx context.Context, projectID string) ([]repository.SurveyPlan, error) {
	if f.listPlansFunc != nil {
		return f.listPlansFunc(ctx, projectID)
	}
	return nil, errors.New("ListPlans not implemented")
}

func (f *fakeService) DeletePlan(ctx context.Context, projectID, id string) error {
	if f.deletePlanFunc != nil {
		return f.deletePlanFunc(ctx, projectID, id)
	}
	return errors.New("DeletePlan not implemented")
}

func (f *fakeService) GetSDKConfig(ctx context.Context, projectID string) (core.SDKConfig, error) {
	if f.getSDKConfigFunc != nil {
		return f.getSDKConfigFunc(ctx, projectID)
	}
	return core.SDKConfig{}, errors.New("GetSDKConfig not implemented")
}

func (f *fakeService) PutSDKConfig(ctx context.Context, projectID string, cfg core.SDKConfig) (core.SDKConfig, error) {
	if f.putSDKConfigFunc != nil {
		return f.putSDKConfigFunc(ctx, projectID, cfg)
	}
	return core.SDKConfig{}, errors.New("PutSDKConfig not implemented")
}

type fakeProjectStore struct {
	mu       sync.Mutex
	projects map[string]repository.Project
	keys     map[string]repository.APIKeyMeta
	revoked  []string
}

func newFakeProjectStore(ids ...string) *fakeProjectStore {
	store := &fakeProjectStore{
		projects: make(map[string]repository.Project),
		keys:     make(map[string]repository.APIKeyMeta),
	}
	for _, id := range ids {
		store.projects[id] = repository.Project{ID: id, Name: id}
	}
	return store
}

func (f *fakeProjectStore) CreateProject(_ context.Context, name, description string) (repository.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := repository.Project{ID: "proj-" + name, Name: name, Description: description}
	if _, ok := f.projects[p.ID]; ok {
		return repository.Project{}, repository.ErrProjectExists
	}
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeProjectStore) ListProjects(context.Context) ([]repository.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProjectStore) GetProject(_ context.Context, id string) (repository.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return repository.Project{}, errNoRows()
	}
	return p, nil
}

func (f *fakeProjectStore) CreateAPIKey(_ context.Context, projectID, name string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keyID := "key" + string(rune('a'+len(f.keys)))
	f.keys[keyID] = repository.APIKeyMeta{ID: keyID, ProjectID: projectID, Name: name}
	return keyID, "s3cret", nil
}

func (f *fakeProjectStore) ListAPIKeys(_ context.Context, projectID string) ([]repository.APIKeyMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.APIKeyMeta, 0)
	for _, k := range f.keys {
		if k.ProjectID == projectID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeProjectStore) RevokeAPIKey(_ context.Context, projectID, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok || k.ProjectID != projectID {
		return errNoRows()
	}
	delete(f.keys, keyID)
	f.revoked = append(f.revoked, keyID)
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	requests []string
	opened   map[string]int
	closed   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{opened: make(map[string]int), closed: make(map[string]int)}
}

func (m *fakeMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("surveyz_test 1\n"))
	})
}

func (m *fakeMetrics) ObserveHTTPRequest(method, route string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, method+" "+route+" "+http.StatusText(status))
}

func (m *fakeMetrics) StreamOpened(transport string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened[transport]++
}

func (m *fakeMetrics) StreamClosed(transport string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[transport]++
}

func (m *fakeMetrics) counts(transport string) (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened[transport], m.closed[transport]
}

func errNoRows() error {
	return fmt.Errorf("lookup: %w", pgx.ErrNoRows)
}
