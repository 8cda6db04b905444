package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	eventColumns = `event_id, project_id, plan_id, event_type, payload, created_at`

	listenRetryDelay = time.Second
)

// PublishPlanEvent stores event and signals the notify channel in the same
// transaction, so listeners never see a notification for an uncommitted row.
func (r *PostgresRepository) PublishPlanEvent(ctx context.Context, event PlanEvent) (PlanEvent, error) {
	var created PlanEvent
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx, `
			INSERT INTO plan_events (project_id, plan_id, event_type, payload)
			VALUES ($1, $2, $3, $4)
			RETURNING `+eventColumns,
			event.ProjectID, event.PlanID, event.EventType, ensureJSON(event.Payload, "{}"),
		)
		var err error
		if created, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[PlanEvent]); err != nil {
			return fmt.Errorf("insert plan event: %w", err)
		}

		body, err := marshalNotifyPayload(created)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, body); err != nil {
			return fmt.Errorf("notify %s: %w", r.notifyChannel, err)
		}
		return nil
	})
	if err != nil {
		return PlanEvent{}, fmt.Errorf("publish %s event for plan %q: %w", event.EventType, event.PlanID, err)
	}
	return created, nil
}

// ListEventsSince pages through a project's events after eventID, at most
// one batch at a time.
func (r *PostgresRepository) ListEventsSince(ctx context.Context, projectID string, eventID int64) ([]PlanEvent, error) {
	rows, _ := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM plan_events
		WHERE project_id = $1 AND event_id > $2
		ORDER BY event_id
		LIMIT $3
	`, projectID, eventID, r.eventBatchSize)
	events, err := pgx.CollectRows(rows, pgx.RowToStructByName[PlanEvent])
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", eventID, err)
	}
	return events, nil
}

// SubscribePlanInvalidation signals on the returned channel whenever any
// project's plans change. Bursts coalesce into one signal. The channel closes
// when ctx ends.
func (r *PostgresRepository) SubscribePlanInvalidation(ctx context.Context) (<-chan struct{}, error) {
	signals := make(chan struct{}, 1)
	go func() {
		defer close(signals)
		for {
			if err := r.listen(ctx, signals); err == nil || ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenRetryDelay):
			}
		}
	}()
	return signals, nil
}

// listen holds one pooled connection on LISTEN until it fails.
func (r *PostgresRepository) listen(ctx context.Context, signals chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		select {
		case signals <- struct{}{}:
		default:
		}
	}
}

// notice is the NOTIFY body. The event payload stays in the table because
// NOTIFY bodies are capped at 8000 bytes.
type notice struct {
	EventID   int64  `json:"event_id"`
	ProjectID string `json:"project_id"`
	PlanID    string `json:"plan_id"`
	EventType string `json:"event_type"`
}

func marshalNotifyPayload(event PlanEvent) (string, error) {
	b, err := json.Marshal(notice{
		EventID:   event.EventID,
		ProjectID: event.ProjectID,
		PlanID:    event.PlanID,
		EventType: event.EventType,
	})
	if err != nil {
		return "", fmt.Errorf("marshal notify payload: %w", err)
	}
	return string(b), nil
}
