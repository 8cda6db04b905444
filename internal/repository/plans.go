package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const planColumns = `project_id, id, position, presentation, trigger_conditions, created_at, updated_at`

func scanPlan(row pgx.Row) (SurveyPlan, error) {
	var plan SurveyPlan
	err := row.Scan(
		&plan.ProjectID,
		&plan.ID,
		&plan.Position,
		&plan.Presentation,
		&plan.TriggerConditions,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	return plan, err
}

// CreatePlan inserts a new plan row and returns it with server-generated
// timestamps.
func (r *PostgresRepository) CreatePlan(ctx context.Context, plan SurveyPlan) (SurveyPlan, error) {
	created, err := scanPlan(r.pool.QueryRow(ctx, `
		INSERT INTO survey_plans (project_id, id, position, presentation, trigger_conditions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+planColumns,
		plan.ProjectID,
		plan.ID,
		plan.Position,
		ensureJSON(plan.Presentation, "{}"),
		ensureJSON(plan.TriggerConditions, "[]"),
	))
	if err != nil {
		return SurveyPlan{}, fmt.Errorf("create plan: %w", err)
	}

	return created, nil
}

// UpdatePlan replaces an existing plan identified by project_id and id.
// Returns pgx.ErrNoRows (wrapped) if the plan does not exist.
func (r *PostgresRepository) UpdatePlan(ctx context.Context, plan SurveyPlan) (SurveyPlan, error) {
	updated, err := scanPlan(r.pool.QueryRow(ctx, `
		UPDATE survey_plans
		SET position = $3,
		    presentation = $4,
		    trigger_conditions = $5,
		    updated_at = NOW()
		WHERE project_id = $1 AND id = $2
		RETURNING `+planColumns,
		plan.ProjectID,
		plan.ID,
		plan.Position,
		ensureJSON(plan.Presentation, "{}"),
		ensureJSON(plan.TriggerConditions, "[]"),
	))
	if err != nil {
		return SurveyPlan{}, fmt.Errorf("update plan: %w", err)
	}

	return updated, nil
}

// GetPlan returns pgx.ErrNoRows (wrapped) if the plan does not exist.
func (r *PostgresRepository) GetPlan(ctx context.Context, projectID, id string) (SurveyPlan, error) {
	plan, err := scanPlan(r.pool.QueryRow(ctx, `
		SELECT `+planColumns+`
		FROM survey_plans
		WHERE project_id = $1 AND id = $2
	`, projectID, id))
	if err != nil {
		return SurveyPlan{}, fmt.Errorf("get plan: %w", err)
	}

	return plan, nil
}

// ListPlans returns plans across all projects in selection order: project,
// then position, then id.
func (r *PostgresRepository) ListPlans(ctx context.Context) ([]SurveyPlan, error) {
	return r.queryPlans(ctx, `
		SELECT `+planColumns+`
		FROM survey_plans
		ORDER BY project_id, position, id
	`)
}

// ListPlansByProject returns one project's plans in selection order.
func (r *PostgresRepository) ListPlansByProject(ctx context.Context, projectID string) ([]SurveyPlan, error) {
	return r.queryPlans(ctx, `
		SELECT `+planColumns+`
		FROM survey_plans
		WHERE project_id = $1
		ORDER BY position, id
	`, projectID)
}

func (r *PostgresRepository) queryPlans(ctx context.Context, query string, args ...any) ([]SurveyPlan, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]SurveyPlan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans rows: %w", err)
	}

	return plans, nil
}

// DeletePlan returns pgx.ErrNoRows (wrapped) if the plan does not exist.
func (r *PostgresRepository) DeletePlan(ctx context.Context, projectID, id string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM survey_plans WHERE project_id = $1 AND id = $2`, projectID, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}

	return noRowsAffected("delete plan", commandTag)
}
