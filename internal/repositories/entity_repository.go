package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"taskboard/internal/models"
)

var ErrNotFound = errors.New("not found")

// EntityRepository executes already-validated mutations for any entity
// described in the metadata.
type EntityRepository interface {
	Insert(ctx context.Context, table string, values map[string]any, returnID bool) (int64, error)
	Update(ctx context.Context, table string, values, keys map[string]any) error
	Delete(ctx context.Context, table string, keys map[string]any) error
	SoftDelete(ctx context.Context, table string, id int64, at time.Time) error

	TaskState(ctx context.Context, taskID int64) (string, error)
	ProjectPositions(ctx context.Context, taskID int64) ([]models.ProjectPosition, error)
	TaskIDOf(ctx context.Context, table string, id int64) (int64, error)
}

type entityRepository struct {
	db *sql.DB
}

func NewEntityRepository(db *sql.DB) EntityRepository {
	return &entityRepository{db: db}
}

func (r *entityRepository) Insert(ctx context.Context, table string, values map[string]any, returnID bool) (int64, error) {
	q, args := buildInsert(table, values, returnID)
	if !returnID {
		_, err := r.db.ExecContext(ctx, q, args...)
		return 0, err
	}
	var id int64
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

func (r *entityRepository) Update(ctx context.Context, table string, values, keys map[string]any) error {
	q, args := buildUpdate(table, values, keys)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return expectRows(res)
}

func (r *entityRepository) Delete(ctx context.Context, table string, keys map[string]any) error {
	q, args := buildDelete(table, keys)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return expectRows(res)
}

func (r *entityRepository) SoftDelete(ctx context.Context, table string, id int64, at time.Time) error {
	q := fmt.Sprintf(`UPDATE %s SET delete_date=$1 WHERE id=$2`, pq.QuoteIdentifier(table))
	res, err := r.db.ExecContext(ctx, q, at, id)
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", table, err)
	}
	return expectRows(res)
}

func (r *entityRepository) TaskState(ctx context.Context, taskID int64) (string, error) {
	var state sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT state FROM task WHERE id = $1`, taskID).Scan(&state)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	return state.String, nil
}

func (r *entityRepository) ProjectPositions(ctx context.Context, taskID int64) ([]models.ProjectPosition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT project_id, position FROM task_project WHERE task_id = $1 ORDER BY project_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProjectPosition
	for rows.Next() {
		var p models.ProjectPosition
		if err := rows.Scan(&p.ProjectID, &p.Position); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *entityRepository) TaskIDOf(ctx context.Context, table string, id int64) (int64, error) {
	q := fmt.Sprintf(`SELECT task_id FROM %s WHERE id = $1`, pq.QuoteIdentifier(table))
	var taskID sql.NullInt64
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&taskID); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if !taskID.Valid {
		return 0, ErrNotFound
	}
	return taskID.Int64, nil
}
