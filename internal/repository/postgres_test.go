package repository

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestNormalizeNotifyChannel(t *testing.T) {
	t.Run("defaults when empty", func(t *testing.T) {
		if got := normalizeNotifyChannel(""); got != defaultNotifyChannel {
			t.Fatalf("normalizeNotifyChannel() = %q, want %q", got, defaultNotifyChannel)
		}
	})

	t.Run("trims non-empty values", func(t *testing.T) {
		if got := normalizeNotifyChannel("  custom_events  "); got != "custom_events" {
			t.Fatalf("normalizeNotifyChannel() = %q, want %q", got, "custom_events")
		}
	})
}

func TestNewPostgresRepositoryOptions(t *testing.T) {
	r := NewPostgresRepository(nil)
	if r.notifyChannel != defaultNotifyChannel || r.eventBatchSize != defaultEventBatchSize {
		t.Fatalf("defaults = (%q, %d)", r.notifyChannel, r.eventBatchSize)
	}

	r = NewPostgresRepository(nil, WithNotifyChannel(" survey_changes "), WithEventBatchSize(25))
	if r.notifyChannel != "survey_changes" || r.eventBatchSize != 25 {
		t.Fatalf("options = (%q, %d)", r.notifyChannel, r.eventBatchSize)
	}

	r = NewPostgresRepository(nil, WithEventBatchSize(0))
	if r.eventBatchSize != defaultEventBatchSize {
		t.Fatalf("non-positive batch size should keep default, got %d", r.eventBatchSize)
	}
}

func TestEnsureJSON(t *testing.T) {
	if got := string(ensureJSON(nil, "[]")); got != "[]" {
		t.Fatalf("ensureJSON(nil) = %q, want %q", got, "[]")
	}

	if got := string(ensureJSON(json.RawMessage(`{"a":1}`), "{}")); got != `{"a":1}` {
		t.Fatalf("ensureJSON(non-empty) = %q, want %q", got, `{"a":1}`)
	}
}

func TestMarshalNotifyPayload(t *testing.T) {
	payload, err := marshalNotifyPayload(PlanEvent{
		EventID:   7,
		ProjectID: "3f1d2b9e-0000-4000-8000-000000000001",
		PlanID:    "onboarding",
		EventType: "updated",
		Payload:   json.RawMessage(`{"id":"onboarding"}`),
	})
	if err != nil {
		t.Fatalf("marshalNotifyPayload() error = %v", err)
	}

	var got notice
	if err := json.Unmarshal([]byte(payload), &got); err != nil {
		t.Fatalf("unmarshal notify payload: %v", err)
	}
	want := notice{EventID: 7, ProjectID: "3f1d2b9e-0000-4000-8000-000000000001", PlanID: "onboarding", EventType: "updated"}
	if got != want {
		t.Fatalf("notice = %+v, want %+v", got, want)
	}
	if strings.Contains(payload, "payload") {
		t.Fatalf("notify payload carries the event body: %s", payload)
	}
}

func TestListenStatement(t *testing.T) {
	if got := listenStatement("plan_events"); got != `LISTEN "plan_events"` {
		t.Fatalf("listenStatement() = %q, want %q", got, `LISTEN "plan_events"`)
	}
}

func TestNoRowsAffected(t *testing.T) {
	if err := noRowsAffected("delete plan", pgconn.NewCommandTag("DELETE 1")); err != nil {
		t.Fatalf("noRowsAffected(delete 1) error = %v, want nil", err)
	}

	if err := noRowsAffected("delete plan", pgconn.NewCommandTag("DELETE 0")); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("noRowsAffected(delete 0) error = %v, want %v", err, pgx.ErrNoRows)
	}
}

func TestGenerateRandomHex(t *testing.T) {
	a, err := generateRandomHex(16)
	if err != nil {
		t.Fatalf("generateRandomHex() error = %v", err)
	}
	b, _ := generateRandomHex(16)
	if len(a) != 32 || a == b {
		t.Fatalf("generateRandomHex() = %q, %q", a, b)
	}
}
