// Package dispatch schedules survey presentation, keeping at most one survey
// pending or on screen at a time.
package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
)

// Presenter renders a survey. Present returns once the survey is shown; the
// survey stays active until Dismiss is called.
type Presenter interface {
	Present(ctx context.Context, res core.MatchResult) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, res core.MatchResult) error

func (f PresenterFunc) Present(ctx context.Context, res core.MatchResult) error {
	return f(ctx, res)
}

type display struct {
	result core.MatchResult
	cancel context.CancelFunc
	done   chan struct{}
}

type Dispatcher struct {
	presenter Presenter
	logger    *slog.Logger

	mu      sync.Mutex
	pending *display
	active  *display
	closed  bool
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func New(presenter Presenter, opts ...Option) (*Dispatcher, error) {
	if presenter == nil {
		return nil, errors.New("presenter is nil")
	}
	d := &Dispatcher{
		presenter: presenter,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch schedules res for presentation after its delay. It returns false
// without scheduling anything when a survey is already pending or active.
// Cancelling ctx does not cancel the scheduled display; use Cancel.
func (d *Dispatcher) Dispatch(ctx context.Context, res core.MatchResult) bool {
	d.mu.Lock()
	if d.closed || d.pending != nil || d.active != nil {
		d.mu.Unlock()
		d.logger.Debug("survey dispatch ignored, slot busy", "plan_id", res.PlanID)
		return false
	}

	displayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pending := &display{
		result: res,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.pending = pending
	d.mu.Unlock()

	d.logger.Debug("survey scheduled", "plan_id", res.PlanID, "delay_ms", res.DelayMs)
	go d.run(displayCtx, pending)
	return true
}

func (d *Dispatcher) run(ctx context.Context, p *display) {
	defer close(p.done)
	defer p.cancel()

	timer := time.NewTimer(p.result.Delay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		d.mu.Lock()
		if d.pending == p {
			d.pending = nil
		}
		d.mu.Unlock()
		return
	case <-timer.C:
	}

	d.mu.Lock()
	if d.pending != p {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.active = p
	d.mu.Unlock()

	if err := d.presenter.Present(ctx, p.result); err != nil {
		d.logger.Error("survey presentation failed", "plan_id", p.result.PlanID, "error", err)
		d.mu.Lock()
		if d.active == p {
			d.active = nil
		}
		d.mu.Unlock()
		return
	}
	d.logger.Info("survey presented", "plan_id", p.result.PlanID)
}

// Cancel drops the pending survey, if any, before it is presented.
func (d *Dispatcher) Cancel() bool {
	d.mu.Lock()
	p := d.pending
	d.pending = nil
	d.mu.Unlock()

	if p == nil {
		return false
	}
	p.cancel()
	d.logger.Debug("pending survey cancelled", "plan_id", p.result.PlanID)
	return true
}

// Dismiss ends the active survey, freeing the slot for the next dispatch.
func (d *Dispatcher) Dismiss() bool {
	d.mu.Lock()
	a := d.active
	d.active = nil
	d.mu.Unlock()

	if a == nil {
		return false
	}
	d.logger.Debug("survey dismissed", "plan_id", a.result.PlanID)
	return true
}

func (d *Dispatcher) Active() (core.MatchResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return core.MatchResult{}, false
	}
	return d.active.result, true
}

func (d *Dispatcher) Pending() (core.MatchResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return core.MatchResult{}, false
	}
	return d.pending.result, true
}

// Close cancels any pending survey, waits for an in-flight presentation to
// return and rejects further dispatches.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	var inflight []*display
	for _, p := range []*display{d.pending, d.active} {
		if p != nil {
			inflight = append(inflight, p)
		}
	}
	d.pending = nil
	d.mu.Unlock()

	for _, p := range inflight {
		p.cancel()
		<-p.done
	}
}
