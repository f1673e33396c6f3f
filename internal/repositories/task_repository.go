package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"taskboard/internal/models"
)

type TaskRepository interface {
	FindShallow(ctx context.Context, filter models.TaskFilter) ([]models.ShallowTask, int, error)
	// MovePosition places a task inside a project's ordering and returns
	// its new position. Runs in one transaction.
	MovePosition(ctx context.Context, in models.PositionInput) (int, error)
}

type taskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) FindShallow(ctx context.Context, filter models.TaskFilter) ([]models.ShallowTask, int, error) {
	baseQuery := `
		SELECT t.id, COALESCE(t.name, ''), COALESCE(t.state, ''), t.create_date, t.accept_date, t.delete_date,
			ARRAY(SELECT project_id FROM task_project WHERE task_id = t.id ORDER BY project_id),
			ARRAY(SELECT tag_id FROM task_tag WHERE task_id = t.id ORDER BY tag_id),
			ARRAY(SELECT person_id FROM task_person WHERE task_id = t.id ORDER BY person_id),
			ARRAY(SELECT COALESCE(description, '') FROM blocker
				WHERE task_id = t.id AND NOT COALESCE(resolved, false) AND delete_date IS NULL ORDER BY id),
			COUNT(*) OVER()
		FROM task t`

	conditions := []string{}
	args := []interface{}{}
	argID := 1

	if filter.TaskID != nil {
		conditions = append(conditions, fmt.Sprintf("t.id = $%d", argID))
		args = append(args, *filter.TaskID)
		argID++
	}
	if filter.ProjectID != nil {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM task_project tp WHERE tp.task_id = t.id AND tp.project_id = $%d)", argID))
		args = append(args, *filter.ProjectID)
		argID++
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	baseQuery += " ORDER BY t.id"
	if filter.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argID, argID+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		tasks []models.ShallowTask
		total int
	)
	for rows.Next() {
		var (
			t                      models.ShallowTask
			projects, tags, people pq.Int64Array
			blockers               pq.StringArray
		)
		if err := rows.Scan(
			&t.ID, &t.Name, &t.State, &t.CreateDate, &t.AcceptDate, &t.DeleteDate,
			&projects, &tags, &people, &blockers, &total,
		); err != nil {
			return nil, 0, err
		}
		t.ProjectIDs = []int64(projects)
		t.TagIDs = []int64(tags)
		t.PersonIDs = []int64(people)
		t.OpenBlockers = []string(blockers)
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

func (r *taskRepository) MovePosition(ctx context.Context, in models.PositionInput) (int, error) {
	var target int
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if in.AlreadyInProject {
			from := in.FromPos
			if from == nil {
				var cur int
				err := tx.QueryRowContext(ctx, `
					SELECT position FROM task_project
					WHERE project_id = $1 AND task_id = $2
					FOR UPDATE`, in.ProjectID, in.TaskID).Scan(&cur)
				if err != nil {
					return fmt.Errorf("current position: %w", err)
				}
				from = &cur
			}
			// close the gap left behind
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_project SET position = position - 1
				WHERE project_id = $1 AND position > $2 AND task_id <> $3`,
				in.ProjectID, *from, in.TaskID); err != nil {
				return err
			}
		}

		switch {
		case in.ToPos != nil:
			target = *in.ToPos
		case in.PosForState != "":
			// right after the last task already in that state, or at the end
			err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(
					(SELECT MAX(tp.position) + 1 FROM task_project tp JOIN task t ON t.id = tp.task_id
						WHERE tp.project_id = $1 AND tp.task_id <> $2 AND t.state = $3 AND t.delete_date IS NULL),
					(SELECT MAX(position) + 1 FROM task_project WHERE project_id = $1 AND task_id <> $2),
					0)`, in.ProjectID, in.TaskID, in.PosForState).Scan(&target)
			if err != nil {
				return fmt.Errorf("position for state: %w", err)
			}
		default:
			return fmt.Errorf("position move for task %d needs to_pos or pos_for_state", in.TaskID)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE task_project SET position = position + 1
			WHERE project_id = $1 AND position >= $2 AND task_id <> $3`,
			in.ProjectID, target, in.TaskID); err != nil {
			return err
		}

		if in.AlreadyInProject {
			_, err := tx.ExecContext(ctx,
				`UPDATE task_project SET position = $1 WHERE project_id = $2 AND task_id = $3`,
				target, in.ProjectID, in.TaskID)
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task_project (task_id, project_id, position) VALUES ($1, $2, $3)`,
			in.TaskID, in.ProjectID, target)
		return err
	})
	if err != nil {
		return 0, err
	}
	return target, nil
}
