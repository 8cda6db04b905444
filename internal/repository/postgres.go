// Package repository provides PostgreSQL-backed persistence for survey plans,
// SDK configuration, projects, API keys and plan change events. It also
// handles LISTEN/NOTIFY-based cache invalidation for the service layer.
package repository

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultNotifyChannel  = "plan_events"
	defaultEventBatchSize = 1000
)

// SurveyPlan is the repository-level representation of a survey plan row.
// Presentation and TriggerConditions hold the wire JSON; the service layer
// validates and decodes them.
type SurveyPlan struct {
	ProjectID         string          `json:"-"`
	ID                string          `json:"id"`
	Position          int             `json:"position"`
	Presentation      json.RawMessage `json:"surveyPresentation"`
	TriggerConditions json.RawMessage `json:"triggerConditions"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SDKConfig is the per-project client tuning shipped with the plans.
type SDKConfig struct {
	ProjectID          string    `json:"-"`
	RefreshIntervalSec int       `json:"refreshIntervalSec"`
	BaseServerURL      string    `json:"baseServerUrl,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Project represents a tenant that owns plans and API keys.
type Project struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// APIKeyMeta contains non-sensitive metadata for an API key, suitable for
// listing keys without exposing secrets.
type APIKeyMeta struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PlanEvent represents a change to a plan or to the project's SDK config,
// stored in plan_events and used to drive SSE and gRPC streaming.
type PlanEvent struct {
	EventID   int64           `json:"event_id" db:"event_id"`
	ProjectID string          `json:"project_id" db:"project_id"`
	PlanID    string          `json:"plan_id" db:"plan_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PostgresRepository implements plan, project, API key and event persistence
// backed by a pgxpool connection pool.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	notifyChannel  string
	eventBatchSize int
}

type Option func(*PostgresRepository)

// WithNotifyChannel sets the LISTEN/NOTIFY channel used for plan events.
func WithNotifyChannel(channel string) Option {
	return func(r *PostgresRepository) {
		r.notifyChannel = normalizeNotifyChannel(channel)
	}
}

// WithEventBatchSize caps the number of events returned per ListEventsSince
// call. Non-positive values keep the default.
func WithEventBatchSize(size int) Option {
	return func(r *PostgresRepository) {
		if size > 0 {
			r.eventBatchSize = size
		}
	}
}

func NewPostgresRepository(pool *pgxpool.Pool, opts ...Option) *PostgresRepository {
	r := &PostgresRepository{
		pool:           pool,
		notifyChannel:  defaultNotifyChannel,
		eventBatchSize: defaultEventBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func noRowsAffected(op string, commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, pgx.ErrNoRows)
	}

	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
