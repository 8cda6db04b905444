// Package service keeps a per-project snapshot of survey configuration in
// memory, validates plan mutations and evaluates triggers server-side.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/repository"
	"github.com/matt-riley/surveyz/internal/tracing"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventTypeUpdated          = "updated"
	EventTypeDeleted          = "deleted"
	EventTypeSDKConfigUpdated = "sdk_config_updated"

	EntryPointEvent = "event"
	EntryPointPage  = "page"

	DefaultRefreshIntervalSec = 300

	bestEffortTimeout   = 2 * time.Second
	cacheResyncInterval = time.Minute
	cacheReloadTimeout  = 5 * time.Second
	uniqueViolation     = "23505"
)

var (
	ErrPlanNotFound        = errors.New("plan not found")
	ErrPlanExists          = errors.New("plan already exists")
	ErrInvalidConditions   = errors.New("invalid trigger conditions")
	ErrInvalidPresentation = errors.New("invalid survey presentation")
	ErrInvalidSDKConfig    = errors.New("invalid sdk config")
	ErrProjectIDRequired   = errors.New("project id is required")
	ErrPlanIDRequired      = errors.New("plan id is required")
)

type Repository interface {
	CreatePlan(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error)
	UpdatePlan(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error)
	GetPlan(ctx context.Context, projectID, id string) (repository.SurveyPlan, error)
	ListPlans(ctx context.Context) ([]repository.SurveyPlan, error)
	DeletePlan(ctx context.Context, projectID, id string) error
	GetSDKConfig(ctx context.Context, projectID string) (repository.SDKConfig, error)
	PutSDKConfig(ctx context.Context, cfg repository.SDKConfig) (repository.SDKConfig, error)
	ListSDKConfigs(ctx context.Context) ([]repository.SDKConfig, error)
	ListEventsSince(ctx context.Context, projectID string, eventID int64) ([]repository.PlanEvent, error)
	PublishPlanEvent(ctx context.Context, event repository.PlanEvent) (repository.PlanEvent, error)
}

type cacheInvalidationSubscriber interface {
	SubscribePlanInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// projectSnapshot is immutable once published; mutations build a new one.
type projectSnapshot struct {
	plans  []repository.SurveyPlan
	sdk    *repository.SDKConfig
	config core.Config
}

type cacheMetrics struct {
	onLoad       func()
	onInvalidate func()
	reset        func()
	setSize      func(projectID string, size float64)
}

type Service struct {
	repo           Repository
	logger         *slog.Logger
	evaluator      *core.Evaluator
	observe        func(entryPoint string, matched bool)
	metrics        cacheMetrics
	resyncInterval time.Duration
	defaultRefresh int
	tracer         trace.Tracer

	mu    sync.RWMutex
	cache map[string]*projectSnapshot
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheMetrics installs hooks called on full cache loads, NOTIFY
// invalidations, and per-project cache size changes.
func WithCacheMetrics(onLoad, onInvalidate, reset func(), setSize func(projectID string, size float64)) Option {
	return func(s *Service) {
		s.metrics = cacheMetrics{
			onLoad:       onLoad,
			onInvalidate: onInvalidate,
			reset:        reset,
			setSize:      setSize,
		}
	}
}

func WithCacheResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

func WithEvaluator(evaluator *core.Evaluator) Option {
	return func(s *Service) {
		if evaluator != nil {
			s.evaluator = evaluator
		}
	}
}

// WithEvaluationObserver is called after every OnEvent and PageOpened.
func WithEvaluationObserver(observe func(entryPoint string, matched bool)) Option {
	return func(s *Service) {
		s.observe = observe
	}
}

// WithDefaultRefreshInterval sets the refreshIntervalSec served to projects
// without a stored SDK config.
func WithDefaultRefreshInterval(seconds int) Option {
	return func(s *Service) {
		if seconds >= 0 {
			s.defaultRefresh = seconds
		}
	}
}

// WithTracer replaces the global surveyz tracer for evaluation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:           repo,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		resyncInterval: cacheResyncInterval,
		defaultRefresh: DefaultRefreshIntervalSec,
		tracer:         tracing.Tracer(),
		cache:          make(map[string]*projectSnapshot),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.evaluator == nil {
		svc.evaluator = core.NewEvaluator(core.WithLogger(svc.logger))
	}

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadCache replaces every project snapshot with the repository contents.
func (s *Service) LoadCache(ctx context.Context) error {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}
	sdkConfigs, err := s.repo.ListSDKConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load sdk configs: %w", err)
	}

	plansByProject := make(map[string][]repository.SurveyPlan)
	for _, plan := range plans {
		plansByProject[plan.ProjectID] = append(plansByProject[plan.ProjectID], plan)
	}
	sdkByProject := make(map[string]*repository.SDKConfig, len(sdkConfigs))
	for i := range sdkConfigs {
		sdkByProject[sdkConfigs[i].ProjectID] = &sdkConfigs[i]
	}

	next := make(map[string]*projectSnapshot, len(plansByProject))
	for projectID, projectPlans := range plansByProject {
		next[projectID] = s.buildSnapshot(projectID, projectPlans, sdkByProject[projectID])
	}
	for projectID, sdk := range sdkByProject {
		if _, ok := next[projectID]; !ok {
			next[projectID] = s.buildSnapshot(projectID, nil, sdk)
		}
	}

	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()

	if s.metrics.onLoad != nil {
		s.metrics.onLoad()
	}
	if s.metrics.reset != nil {
		s.metrics.reset()
	}
	if s.metrics.setSize != nil {
		for projectID, snap := range next {
			s.metrics.setSize(projectID, float64(len(snap.plans)))
		}
	}

	return nil
}

func (s *Service) CreatePlan(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error) {
	if strings.TrimSpace(plan.ProjectID) == "" {
		return repository.SurveyPlan{}, ErrProjectIDRequired
	}
	plan.ID = strings.TrimSpace(plan.ID)
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	normalized, err := normalizePlan(plan)
	if err != nil {
		return repository.SurveyPlan{}, err
	}

	created, err := s.repo.CreatePlan(ctx, normalized)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.SurveyPlan{}, ErrPlanExists
		}
		return repository.SurveyPlan{}, fmt.Errorf("create plan: %w", err)
	}

	s.setCachedPlan(created)
	s.publishPlanEventBestEffort(ctx, EventTypeUpdated, created)

	return created, nil
}

func (s *Service) UpdatePlan(ctx context.Context, plan repository.SurveyPlan) (repository.SurveyPlan, error) {
	if strings.TrimSpace(plan.ProjectID) == "" {
		return repository.SurveyPlan{}, ErrProjectIDRequired
	}
	if strings.TrimSpace(plan.ID) == "" {
		return repository.SurveyPlan{}, ErrPlanIDRequired
	}
	normalized, err := normalizePlan(plan)
	if err != nil {
		return repository.SurveyPlan{}, err
	}

	updated, err := s.repo.UpdatePlan(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedPlan(plan.ProjectID, plan.ID)
			return repository.SurveyPlan{}, ErrPlanNotFound
		}
		return repository.SurveyPlan{}, fmt.Errorf("update plan: %w", err)
	}

	s.setCachedPlan(updated)
	s.publishPlanEventBestEffort(ctx, EventTypeUpdated, updated)

	return updated, nil
}

func (s *Service) GetPlan(ctx context.Context, projectID, id string) (repository.SurveyPlan, error) {
	if strings.TrimSpace(projectID) == "" {
		return repository.SurveyPlan{}, ErrProjectIDRequired
	}
	if strings.TrimSpace(id) == "" {
		return repository.SurveyPlan{}, ErrPlanIDRequired
	}

	if plan, ok := s.getCachedPlan(projectID, id); ok {
		return plan, nil
	}

	plan, err := s.repo.GetPlan(ctx, projectID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.SurveyPlan{}, ErrPlanNotFound
		}
		return repository.SurveyPlan{}, fmt.Errorf("get plan: %w", err)
	}

	s.setCachedPlan(plan)
	return plan, nil
}

// ListPlans returns the project's plans in selection order.
func (s *Service) ListPlans(_ context.Context, projectID string) ([]repository.SurveyPlan, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, ErrProjectIDRequired
	}

	snap := s.snapshot(projectID)
	plans := make([]repository.SurveyPlan, len(snap.plans))
	copy(plans, snap.plans)
	return plans, nil
}

func (s *Service) DeletePlan(ctx context.Context, projectID, id string) error {
	existing, err := s.GetPlan(ctx, projectID, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeletePlan(ctx, projectID, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedPlan(projectID, id)
			return ErrPlanNotFound
		}
		return fmt.Errorf("delete plan: %w", err)
	}

	s.deleteCachedPlan(projectID, id)
	s.publishPlanEventBestEffort(ctx, EventTypeDeleted, existing)

	return nil
}

// GetSDKConfig returns the stored SDK config, or the default when the project
// has none.
func (s *Service) GetSDKConfig(_ context.Context, projectID string) (core.SDKConfig, error) {
	if strings.TrimSpace(projectID) == "" {
		return core.SDKConfig{}, ErrProjectIDRequired
	}
	return *s.snapshot(projectID).config.SDKConfig, nil
}

func (s *Service) PutSDKConfig(ctx context.Context, projectID string, cfg core.SDKConfig) (core.SDKConfig, error) {
	if strings.TrimSpace(projectID) == "" {
		return core.SDKConfig{}, ErrProjectIDRequired
	}
	if cfg.RefreshIntervalSec < 0 {
		return core.SDKConfig{}, fmt.Errorf("%w: refreshIntervalSec must be >= 0", ErrInvalidSDKConfig)
	}

	stored, err := s.repo.PutSDKConfig(ctx, repository.SDKConfig{
		ProjectID:          projectID,
		RefreshIntervalSec: cfg.RefreshIntervalSec,
		BaseServerURL:      strings.TrimSpace(cfg.BaseServerURL),
	})
	if err != nil {
		return core.SDKConfig{}, fmt.Errorf("put sdk config: %w", err)
	}

	s.setCachedSDKConfig(stored)
	s.publishEventBestEffort(ctx, repository.PlanEvent{
		ProjectID: projectID,
		EventType: EventTypeSDKConfigUpdated,
	}, stored)

	return core.SDKConfig{RefreshIntervalSec: stored.RefreshIntervalSec, BaseServerURL: stored.BaseServerURL}, nil
}

// GetConfig returns the project's config in the form served to SDKs. The
// returned value is shared and must not be modified.
func (s *Service) GetConfig(_ context.Context, projectID string) (core.Config, error) {
	if strings.TrimSpace(projectID) == "" {
		return core.Config{}, ErrProjectIDRequired
	}
	return s.snapshot(projectID).config, nil
}

// OnEvent selects the survey an event would trigger for the project.
func (s *Service) OnEvent(ctx context.Context, projectID, name string, value *string) (core.MatchResult, bool, error) {
	return s.evaluate(ctx, projectID, core.EventTrigger(name, value))
}

// PageOpened selects the survey a page view would trigger for the project.
func (s *Service) PageOpened(ctx context.Context, projectID, page string) (core.MatchResult, bool, error) {
	return s.evaluate(ctx, projectID, core.PageTrigger(page))
}

func (s *Service) evaluate(ctx context.Context, projectID string, trigger core.Trigger) (core.MatchResult, bool, error) {
	if strings.TrimSpace(projectID) == "" {
		return core.MatchResult{}, false, ErrProjectIDRequired
	}

	entryPoint := EntryPointEvent
	if trigger.Kind == core.TriggerPage {
		entryPoint = EntryPointPage
	}

	_, span := tracing.StartEvaluation(ctx, s.tracer, projectID, entryPoint, trigger.Name)
	snap := core.Snapshot{Config: s.snapshot(projectID).config}
	res, ok := s.evaluator.Evaluate(snap, trigger)
	tracing.EndEvaluation(span, res.PlanID, ok)

	if s.observe != nil {
		s.observe(entryPoint, ok)
	}

	return res, ok, nil
}

func (s *Service) ListEventsSince(ctx context.Context, projectID string, eventID int64) ([]repository.PlanEvent, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, ErrProjectIDRequired
	}

	events, err := s.repo.ListEventsSince(ctx, projectID, eventID)
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", eventID, err)
	}

	return events, nil
}

func (s *Service) snapshot(projectID string) *projectSnapshot {
	s.mu.RLock()
	snap, ok := s.cache[projectID]
	s.mu.RUnlock()

	if ok {
		return snap
	}
	return s.buildSnapshot(projectID, nil, nil)
}

func (s *Service) getCachedPlan(projectID, id string) (repository.SurveyPlan, bool) {
	snap := s.snapshot(projectID)
	for _, plan := range snap.plans {
		if plan.ID == id {
			return plan, true
		}
	}
	return repository.SurveyPlan{}, false
}

func (s *Service) setCachedPlan(plan repository.SurveyPlan) {
	s.replaceProject(plan.ProjectID, func(plans []repository.SurveyPlan) []repository.SurveyPlan {
		next := make([]repository.SurveyPlan, 0, len(plans)+1)
		for _, existing := range plans {
			if existing.ID != plan.ID {
				next = append(next, existing)
			}
		}
		return append(next, plan)
	}, nil)
}

func (s *Service) deleteCachedPlan(projectID, id string) {
	s.replaceProject(projectID, func(plans []repository.SurveyPlan) []repository.SurveyPlan {
		next := make([]repository.SurveyPlan, 0, len(plans))
		for _, existing := range plans {
			if existing.ID != id {
				next = append(next, existing)
			}
		}
		return next
	}, nil)
}

func (s *Service) setCachedSDKConfig(cfg repository.SDKConfig) {
	s.replaceProject(cfg.ProjectID, nil, &cfg)
}

// replaceProject publishes a new snapshot for the project built from the
// current one. A nil editPlans keeps the plans; a nil sdk keeps the SDK config.
func (s *Service) replaceProject(projectID string, editPlans func([]repository.SurveyPlan) []repository.SurveyPlan, sdk *repository.SDKConfig) {
	s.mu.Lock()
	current, ok := s.cache[projectID]
	if !ok {
		current = &projectSnapshot{}
	}
	plans := current.plans
	if editPlans != nil {
		plans = editPlans(plans)
	}
	if sdk == nil {
		sdk = current.sdk
	}
	next := s.buildSnapshot(projectID, plans, sdk)
	s.cache[projectID] = next
	s.mu.Unlock()

	if s.metrics.setSize != nil {
		s.metrics.setSize(projectID, float64(len(next.plans)))
	}
}

// buildSnapshot orders plans by position then id and compiles the wire
// config. Stored plans that no longer decode are skipped with a warning.
func (s *Service) buildSnapshot(projectID string, plans []repository.SurveyPlan, sdk *repository.SDKConfig) *projectSnapshot {
	ordered := make([]repository.SurveyPlan, len(plans))
	copy(ordered, plans)
	sortPlans(ordered)

	cfg := core.Config{
		SurveyPlans: make([]core.SurveyPlan, 0, len(ordered)),
		SDKConfig:   &core.SDKConfig{RefreshIntervalSec: s.defaultRefresh},
	}
	if sdk != nil {
		cfg.SDKConfig = &core.SDKConfig{
			RefreshIntervalSec: sdk.RefreshIntervalSec,
			BaseServerURL:      sdk.BaseServerURL,
		}
	}
	for _, plan := range ordered {
		corePlan, err := repositoryPlanToCore(plan)
		if err != nil {
			s.logger.Warn("skipping undecodable plan", "project_id", projectID, "plan_id", plan.ID, "error", err)
			continue
		}
		cfg.SurveyPlans = append(cfg.SurveyPlans, corePlan)
	}

	return &projectSnapshot{plans: ordered, sdk: sdk, config: cfg}
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribePlanInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribePlanInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribePlanInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				if s.metrics.onInvalidate != nil {
					s.metrics.onInvalidate()
				}
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()
	if err := s.LoadCache(reloadCtx); err != nil {
		s.logger.Warn("cache reload failed", "error", err)
	}
}

func (s *Service) publishPlanEventBestEffort(ctx context.Context, eventType string, plan repository.SurveyPlan) {
	s.publishEventBestEffort(ctx, repository.PlanEvent{
		ProjectID: plan.ProjectID,
		PlanID:    plan.ID,
		EventType: eventType,
	}, plan)
}

func (s *Service) publishEventBestEffort(ctx context.Context, event repository.PlanEvent, body any) {
	// Mutations have already committed before events are published.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		s.logger.Warn("marshal plan event payload", "event_type", event.EventType, "error", err)
		return
	}
	event.Payload = payload

	if _, err := s.repo.PublishPlanEvent(publishCtx, event); err != nil {
		s.logger.Warn("publish plan event", "event_type", event.EventType, "plan_id", event.PlanID, "error", err)
	}
}
