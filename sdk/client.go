package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/dispatch"
	"github.com/matt-riley/surveyz/internal/logging"
	"github.com/matt-riley/surveyz/internal/planfile"
	"github.com/matt-riley/surveyz/internal/state"
)

var (
	ErrNotStarted   = errors.New("sdk client not started")
	ErrStarted      = errors.New("sdk client already started")
	ErrClosed       = errors.New("sdk client closed")
	ErrEmptyTrigger = errors.New("trigger name is required")
)

type (
	MatchResult   = core.MatchResult
	UserData      = core.UserData
	Presenter     = dispatch.Presenter
	PresenterFunc = dispatch.PresenterFunc
)

// Client evaluates triggers on the device against the latest survey plans.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	logLimit   int
	fetcher    *Fetcher
	evaluator  *core.Evaluator
	dispatcher *dispatch.Dispatcher
	plans      *state.ConfigHolder
	recorder   atomic.Pointer[state.Recorder]
	store      atomic.Pointer[state.SQLiteStore]

	planFileOpts []planfile.WatchOption

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

type Option func(*clientOptions)

type clientOptions struct {
	logger       *slog.Logger
	now          func() time.Time
	logLimit     int
	fetcherOpts  []FetcherOption
	debounce     time.Duration
	haveDebounce bool
}

// WithLogger overrides the logger built from Config.LogLevel.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFetcherOptions configures the HTTP fetcher.
func WithFetcherOptions(opts ...FetcherOption) Option {
	return func(o *clientOptions) {
		o.fetcherOpts = append(o.fetcherOpts, opts...)
	}
}

// WithEventLogLimit caps the recorded event and page history.
func WithEventLogLimit(limit int) Option {
	return func(o *clientOptions) {
		o.logLimit = limit
	}
}

// WithPlanFileDebounce sets how long the plan file must be quiet before a
// reload.
func WithPlanFileDebounce(d time.Duration) Option {
	return func(o *clientOptions) {
		o.debounce = d
		o.haveDebounce = true
	}
}

func New(cfg Config, presenter Presenter, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := core.ParseEventMatchMode(cfg.EventMatchMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	options := clientOptions{now: time.Now}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	if logger == nil {
		logger = logging.New(cfg.LogLevel)
	}

	dispatcher, err := dispatch.New(presenter, dispatch.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		now:        options.now,
		logLimit:   options.logLimit,
		evaluator:  core.NewEvaluator(core.WithLogger(logger), core.WithEventMatchMode(mode)),
		dispatcher: dispatcher,
		plans:      state.NewConfigHolder(core.Config{}),
	}
	if cfg.PlansFile == "" {
		c.fetcher = NewFetcher(cfg.BaseURL, cfg.APIKey, options.fetcherOpts...)
	}
	c.planFileOpts = []planfile.WatchOption{planfile.WithLogger(logger)}
	if options.haveDebounce {
		c.planFileOpts = append(c.planFileOpts, planfile.WithDebounce(options.debounce))
	}
	return c, nil
}

// Start restores persisted state, records an app launch and begins keeping
// the plans current. A failed initial fetch is logged; the client keeps
// using the cached config and retries on the next refresh.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.recorder.Load() != nil {
		return ErrStarted
	}

	local := core.DefaultLocalState(c.now())
	if c.cfg.StatePath != "" {
		store, err := state.OpenSQLite(ctx, c.cfg.StatePath)
		if err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
		c.store.Store(store)

		saved, err := store.LoadState(ctx)
		switch {
		case err == nil:
			local = saved
		case errors.Is(err, state.ErrNotFound):
		default:
			c.logger.Warn("stored state unreadable, starting fresh", "error", err)
		}

		if c.cfg.PlansFile == "" {
			cached, fetchedAt, err := store.LoadConfig(ctx)
			switch {
			case err == nil:
				c.applyConfig(cached)
				c.logger.Debug("restored cached config", "plans", len(cached.SurveyPlans), "fetched_at", fetchedAt)
			case errors.Is(err, state.ErrNotFound):
			default:
				c.logger.Warn("cached config unreadable", "error", err)
			}
		}
	}

	var recOpts []state.RecorderOption
	if c.logLimit > 0 {
		recOpts = append(recOpts, state.WithLogLimit(c.logLimit))
	}
	rec := state.NewRecorder(local, recOpts...)
	rec.RecordLaunch(c.now())
	c.saveState(ctx, rec)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if c.cfg.PlansFile != "" {
		cfg, err := planfile.Load(c.cfg.PlansFile)
		if err != nil {
			cancel()
			c.closeStore()
			return fmt.Errorf("load plans file: %w", err)
		}
		c.plans.Store(cfg)
		if err := planfile.Watch(runCtx, c.cfg.PlansFile, c.plans.Store, c.planFileOpts...); err != nil {
			cancel()
			c.closeStore()
			return fmt.Errorf("watch plans file: %w", err)
		}
		c.logger.Info("survey plans loaded from file", "path", c.cfg.PlansFile, "plans", len(cfg.SurveyPlans))
	} else {
		if err := c.refresh(ctx); err != nil {
			c.logger.Warn("initial config fetch failed", "error", err)
		}
		c.wg.Add(1)
		go c.refreshLoop(runCtx)
	}

	c.cancel = cancel
	c.recorder.Store(rec)
	return nil
}

// OnEvent records an event and presents the first survey whose rules it
// satisfies. The bool reports whether a plan matched; the dispatcher may
// still decline it while another survey is pending or on screen.
func (c *Client) OnEvent(ctx context.Context, name string, value *string) (MatchResult, bool, error) {
	rec, err := c.active()
	if err != nil {
		return MatchResult{}, false, err
	}
	if strings.TrimSpace(name) == "" {
		return MatchResult{}, false, ErrEmptyTrigger
	}

	rec.RecordEvent(name)
	res, ok := c.evaluator.OnEvent(c.snapshot(rec), name, value)
	if ok {
		c.dispatch(ctx, res)
	}
	return res, ok, nil
}

// PageOpened records a page view and presents the first matching page
// survey.
func (c *Client) PageOpened(ctx context.Context, page string) (MatchResult, bool, error) {
	rec, err := c.active()
	if err != nil {
		return MatchResult{}, false, err
	}
	if strings.TrimSpace(page) == "" {
		return MatchResult{}, false, ErrEmptyTrigger
	}

	rec.RecordPage(page)
	res, ok := c.evaluator.PageOpened(c.snapshot(rec), page)
	if ok {
		c.dispatch(ctx, res)
	}
	return res, ok, nil
}

// EndSession records the length of the session that just ended and persists
// local state.
func (c *Client) EndSession(ctx context.Context, d time.Duration) error {
	rec, err := c.active()
	if err != nil {
		return err
	}
	rec.EndSession(d)
	return c.persist(ctx, rec)
}

func (c *Client) SetUser(user UserData) error {
	rec, err := c.active()
	if err != nil {
		return err
	}
	rec.SetUser(user)
	return nil
}

// Dismiss tells the client the active survey was closed.
func (c *Client) Dismiss() bool {
	return c.dispatcher.Dismiss()
}

// CancelPending drops a survey that is waiting out its delay.
func (c *Client) CancelPending() bool {
	return c.dispatcher.Cancel()
}

// Plans returns the config currently used for evaluation.
func (c *Client) Plans() core.Config {
	return c.plans.Load()
}

// Refresh fetches the config immediately. It is a no-op in plan file mode.
func (c *Client) Refresh(ctx context.Context) error {
	if c.fetcher == nil {
		return nil
	}
	return c.refresh(ctx)
}

// Close stops background work, waits for an in-flight presentation and
// persists local state.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.dispatcher.Close()

	var errs []error
	if rec := c.recorder.Load(); rec != nil {
		errs = append(errs, c.persist(context.Background(), rec))
	}
	errs = append(errs, c.closeStore())
	return errors.Join(errs...)
}

func (c *Client) closeStore() error {
	store := c.store.Swap(nil)
	if store == nil {
		return nil
	}
	return store.Close()
}

func (c *Client) active() (*state.Recorder, error) {
	rec := c.recorder.Load()
	if rec == nil {
		return nil, ErrNotStarted
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return rec, nil
}

func (c *Client) snapshot(rec *state.Recorder) core.Snapshot {
	return core.Snapshot{Config: c.plans.Load(), State: rec.Snapshot()}
}

func (c *Client) dispatch(ctx context.Context, res MatchResult) {
	if !c.dispatcher.Dispatch(ctx, res) {
		c.logger.Debug("matched survey not shown, another survey is pending or active", "plan_id", res.PlanID)
	}
}

func (c *Client) refresh(ctx context.Context) error {
	cfg, _, err := c.fetcher.FetchConfig(ctx)
	if err != nil {
		return err
	}
	c.applyConfig(cfg)
	c.logger.Debug("config refreshed", "plans", len(cfg.SurveyPlans))

	if store := c.store.Load(); store != nil {
		if err := store.SaveConfig(ctx, cfg, c.now()); err != nil {
			c.logger.Warn("cache config failed", "error", err)
		}
	}
	return nil
}

func (c *Client) applyConfig(cfg core.Config) {
	if cfg.SDKConfig != nil && c.fetcher != nil {
		c.fetcher.SetBaseURL(cfg.SDKConfig.BaseServerURL)
	}
	c.plans.Store(cfg)
}

func (c *Client) refreshInterval() time.Duration {
	if sdkCfg := c.plans.Load().SDKConfig; sdkCfg != nil && sdkCfg.RefreshIntervalSec > 0 {
		return time.Duration(sdkCfg.RefreshIntervalSec) * time.Second
	}
	return c.cfg.RefreshInterval
}

func (c *Client) refreshLoop(ctx context.Context) {
	defer c.wg.Done()

	timer := time.NewTimer(c.refreshInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := c.refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("config refresh failed", "error", err)
		}
		timer.Reset(c.refreshInterval())
	}
}

func (c *Client) saveState(ctx context.Context, rec *state.Recorder) {
	if err := c.persist(ctx, rec); err != nil {
		c.logger.Warn("persist state failed", "error", err)
	}
}

func (c *Client) persist(ctx context.Context, rec *state.Recorder) error {
	store := c.store.Load()
	if store == nil {
		return nil
	}
	return store.SaveState(ctx, rec.Snapshot())
}
