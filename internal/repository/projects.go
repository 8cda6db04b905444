package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrProjectExists is returned when a project name is already taken.
var ErrProjectExists = errors.New("project already exists")

const projectColumns = `id, name, description, created_at, updated_at`

func (r *PostgresRepository) CreateProject(ctx context.Context, name, description string) (Project, error) {
	rows, _ := r.pool.Query(ctx, `
		INSERT INTO projects (name, description) VALUES ($1, $2)
		RETURNING `+projectColumns, name, description)
	project, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Project])
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Project{}, fmt.Errorf("create project %q: %w", name, ErrProjectExists)
		}
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

// ListProjects orders projects by name.
func (r *PostgresRepository) ListProjects(ctx context.Context) ([]Project, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	projects, err := pgx.CollectRows(rows, pgx.RowToStructByName[Project])
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// GetProject wraps pgx.ErrNoRows for an unknown id.
func (r *PostgresRepository) GetProject(ctx context.Context, id string) (Project, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	project, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Project])
	if err != nil {
		return Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	return project, nil
}
