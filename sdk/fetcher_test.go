package sdk_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matt-riley/surveyz/sdk"
)

const configJSON = `{
  "surveyPlans": [
    {"id": "checkout", "triggerConditions": [[{"type": "event", "property": "purchase", "operator": "eq"}]]},
    {"id": "pricing", "surveyPresentation": {"displayLocation": "center_modal"},
     "triggerConditions": [[{"type": "screen", "property": "pricing"}, {"type": "session_duration", "value": "2"}]]}
  ],
  "sdkConfig": {"refreshIntervalSec": 60}
}`

func newFetcher(url string) *sdk.Fetcher {
	return sdk.NewFetcher(url, "test-key", sdk.WithRetryDelays(time.Millisecond, 2*time.Millisecond))
}

func TestFetchConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/config" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header: got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, configJSON)
	}))
	t.Cleanup(srv.Close)

	cfg, raw, err := newFetcher(srv.URL + "/").FetchConfig(context.Background())
	if err != nil {
		t.Fatalf("FetchConfig() error = %v", err)
	}
	if len(cfg.SurveyPlans) != 2 || cfg.SurveyPlans[0].ID != "checkout" {
		t.Fatalf("plans = %+v", cfg.SurveyPlans)
	}
	if cfg.SDKConfig == nil || cfg.SDKConfig.RefreshIntervalSec != 60 {
		t.Fatalf("sdkConfig = %+v", cfg.SDKConfig)
	}
	if string(raw) != configJSON {
		t.Fatalf("raw body not returned unchanged")
	}
}

func TestFetchConfigRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, configJSON)
	}))
	t.Cleanup(srv.Close)

	if _, _, err := newFetcher(srv.URL).FetchConfig(context.Background()); err != nil {
		t.Fatalf("FetchConfig() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestFetchConfigGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, _, err := newFetcher(srv.URL).FetchConfig(context.Background())
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("FetchConfig() error = %v, want APIError 500", err)
	}
	if apiErr.Message != "boom" {
		t.Fatalf("Message = %q, want boom", apiErr.Message)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestFetchConfigDoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{
		http.StatusUnauthorized,
		http.StatusPaymentRequired,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusGone,
	} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
			}))
			t.Cleanup(srv.Close)

			_, _, err := newFetcher(srv.URL).FetchConfig(context.Background())
			var apiErr *sdk.APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != status {
				t.Fatalf("FetchConfig() error = %v, want APIError %d", err, status)
			}
			if got := calls.Load(); got != 1 {
				t.Fatalf("calls = %d, want 1", got)
			}
		})
	}
}

func TestFetchConfigRejectsInvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"surveyPlans":[{"id":"p","triggerConditions":[[{"type":"geo"}]]}]}`)
	}))
	t.Cleanup(srv.Close)

	if _, _, err := newFetcher(srv.URL).FetchConfig(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFetcherSetBaseURL(t *testing.T) {
	f := sdk.NewFetcher("https://old.example/", "k")
	if got := f.BaseURL(); got != "https://old.example" {
		t.Fatalf("BaseURL() = %q", got)
	}
	f.SetBaseURL("  ")
	if got := f.BaseURL(); got != "https://old.example" {
		t.Fatalf("blank SetBaseURL changed url to %q", got)
	}
	f.SetBaseURL("https://new.example/")
	if got := f.BaseURL(); got != "https://new.example" {
		t.Fatalf("BaseURL() = %q, want https://new.example", got)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusPaymentRequired, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusGone, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, true},
	}
	for _, tt := range tests {
		if got := sdk.ShouldRetry(tt.status); got != tt.want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
