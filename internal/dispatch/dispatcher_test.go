package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
)

type recordingPresenter struct {
	mu        sync.Mutex
	presented []core.MatchResult
	err       error
	calls     chan core.MatchResult
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{calls: make(chan core.MatchResult, 8)}
}

func (p *recordingPresenter) Present(_ context.Context, res core.MatchResult) error {
	p.mu.Lock()
	p.presented = append(p.presented, res)
	err := p.err
	p.mu.Unlock()
	p.calls <- res
	return err
}

func waitPresented(t *testing.T, p *recordingPresenter) core.MatchResult {
	t.Helper()
	select {
	case res := <-p.calls:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presentation")
		return core.MatchResult{}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewRequiresPresenter(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil presenter")
	}
}

func TestDispatchPresentsAndHoldsSlot(t *testing.T) {
	presenter := newRecordingPresenter()
	d, err := New(presenter)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	if !d.Dispatch(context.Background(), core.MatchResult{PlanID: "p1"}) {
		t.Fatal("first dispatch should be accepted")
	}
	if got := waitPresented(t, presenter); got.PlanID != "p1" {
		t.Fatalf("presented %q, want p1", got.PlanID)
	}
	waitUntil(t, func() bool { _, ok := d.Active(); return ok })

	if d.Dispatch(context.Background(), core.MatchResult{PlanID: "p2"}) {
		t.Fatal("dispatch while a survey is active should be ignored")
	}
	if !d.Dismiss() {
		t.Fatal("Dismiss() should report an active survey")
	}
	if d.Dismiss() {
		t.Fatal("second Dismiss() should report nothing to dismiss")
	}
	if !d.Dispatch(context.Background(), core.MatchResult{PlanID: "p2"}) {
		t.Fatal("dispatch after dismiss should be accepted")
	}
	if got := waitPresented(t, presenter); got.PlanID != "p2" {
		t.Fatalf("presented %q, want p2", got.PlanID)
	}
}

func TestDispatchIgnoredWhilePending(t *testing.T) {
	presenter := newRecordingPresenter()
	d, _ := New(presenter)
	defer d.Close()

	if !d.Dispatch(context.Background(), core.MatchResult{PlanID: "p1", DelayMs: 60_000}) {
		t.Fatal("first dispatch should be accepted")
	}
	if pending, ok := d.Pending(); !ok || pending.PlanID != "p1" {
		t.Fatalf("Pending() = (%+v, %v)", pending, ok)
	}
	if d.Dispatch(context.Background(), core.MatchResult{PlanID: "p2"}) {
		t.Fatal("dispatch while pending should be ignored")
	}
}

func TestCancelDropsPendingSurvey(t *testing.T) {
	presenter := newRecordingPresenter()
	d, _ := New(presenter)
	defer d.Close()

	d.Dispatch(context.Background(), core.MatchResult{PlanID: "p1", DelayMs: 60_000})
	if !d.Cancel() {
		t.Fatal("Cancel() should report a pending survey")
	}
	if d.Cancel() {
		t.Fatal("second Cancel() should report nothing pending")
	}
	if _, ok := d.Pending(); ok {
		t.Fatal("no survey should be pending after Cancel")
	}
	if !d.Dispatch(context.Background(), core.MatchResult{PlanID: "p2"}) {
		t.Fatal("dispatch after cancel should be accepted")
	}
	if got := waitPresented(t, presenter); got.PlanID != "p2" {
		t.Fatalf("presented %q, want p2", got.PlanID)
	}
}

func TestCallerContextDoesNotCancelDisplay(t *testing.T) {
	presenter := newRecordingPresenter()
	d, _ := New(presenter)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, core.MatchResult{PlanID: "p1", DelayMs: 20})
	cancel()

	if got := waitPresented(t, presenter); got.PlanID != "p1" {
		t.Fatalf("presented %q, want p1", got.PlanID)
	}
}

func TestPresenterErrorReleasesSlot(t *testing.T) {
	var buf bytes.Buffer
	presenter := newRecordingPresenter()
	presenter.err = errors.New("webview unavailable")
	d, _ := New(presenter, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	defer d.Close()

	d.Dispatch(context.Background(), core.MatchResult{PlanID: "p1"})
	waitPresented(t, presenter)
	waitUntil(t, func() bool {
		_, active := d.Active()
		_, pending := d.Pending()
		return !active && !pending
	})

	if !strings.Contains(buf.String(), "survey presentation failed") {
		t.Fatalf("expected error log, got %s", buf.String())
	}
	if !d.Dispatch(context.Background(), core.MatchResult{PlanID: "p2"}) {
		t.Fatal("slot should be free after a presenter error")
	}
}

func TestCloseRejectsFurtherDispatch(t *testing.T) {
	d, _ := New(PresenterFunc(func(context.Context, core.MatchResult) error { return nil }))
	d.Dispatch(context.Background(), core.MatchResult{PlanID: "p1", DelayMs: 60_000})
	d.Close()

	if _, ok := d.Pending(); ok {
		t.Fatal("Close should drop the pending survey")
	}
	if d.Dispatch(context.Background(), core.MatchResult{PlanID: "p2"}) {
		t.Fatal("dispatch after Close should be rejected")
	}
}
