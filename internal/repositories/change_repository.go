package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"taskboard/internal/models"
)

// ChangeStore is the part of the change log that runs inside one
// transaction: the change row, its audience and its notifications.
type ChangeStore interface {
	// InsertChange persists c and fills c.ID and c.TaskID. With childTable
	// set, the task id is read from that table's row c.TargetID in the same
	// statement. A zero c.TaskID afterwards means it could not be resolved.
	InsertChange(ctx context.Context, c *models.Change, childTable string) error
	TaskAudience(ctx context.Context, taskID, excludeID int64) (*models.TaskAudience, error)
	InsertNotifications(ctx context.Context, changeID int64, recipients []int64) (map[int64]int64, error)
}

type ChangeRepository interface {
	ChangeStore
	WithinTx(ctx context.Context, fn func(store ChangeStore) error) error
	ListNotifications(ctx context.Context, recipientID int64, limit, offset int) ([]models.NotificationView, int, error)
}

type changeRepository struct {
	db *sql.DB
}

type changeStore struct {
	q dbtx
}

func NewChangeRepository(db *sql.DB) ChangeRepository {
	return &changeRepository{db: db}
}

func (r *changeRepository) WithinTx(ctx context.Context, fn func(store ChangeStore) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&changeStore{q: tx})
	})
}

func (r *changeRepository) InsertChange(ctx context.Context, c *models.Change, childTable string) error {
	return (&changeStore{q: r.db}).InsertChange(ctx, c, childTable)
}

func (r *changeRepository) TaskAudience(ctx context.Context, taskID, excludeID int64) (*models.TaskAudience, error) {
	return (&changeStore{q: r.db}).TaskAudience(ctx, taskID, excludeID)
}

func (r *changeRepository) InsertNotifications(ctx context.Context, changeID int64, recipients []int64) (map[int64]int64, error) {
	return (&changeStore{q: r.db}).InsertNotifications(ctx, changeID, recipients)
}

func encodeNewValue(prop string, v any) (sql.NullString, error) {
	if prop == "" {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode new_value of %s: %w", prop, err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *changeStore) InsertChange(ctx context.Context, c *models.Change, childTable string) error {
	newValue, err := encodeNewValue(c.PropertyName, c.NewValue)
	if err != nil {
		return err
	}

	var q string
	args := []any{c.ChangeType, c.ActorID, c.EntityID, c.TargetID, nullString(c.PropertyName), newValue, c.CreateDate}
	if childTable != "" {
		// the child row is the source of truth for its task
		q = fmt.Sprintf(`
			INSERT INTO change (change_type, actor_id, entity_id, target_id, property_name, new_value, create_date, task_id)
			SELECT $1::text, $2::bigint, $3::text, $4::bigint, $5::text, $6::text, $7::timestamptz, task_id
			FROM %s WHERE id = $4
			RETURNING id, task_id`, pq.QuoteIdentifier(childTable))
	} else {
		q = `
			INSERT INTO change (change_type, actor_id, entity_id, target_id, property_name, new_value, create_date, task_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, task_id`
		args = append(args, nullInt64(c.TaskID))
	}

	var taskID sql.NullInt64
	err = s.q.QueryRowContext(ctx, q, args...).Scan(&c.ID, &taskID)
	if err == sql.ErrNoRows {
		c.TaskID = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	c.TaskID = taskID.Int64
	return nil
}

// TaskAudience reads followers (minus excludeID), project memberships and
// the task name in one round trip.
func (s *changeStore) TaskAudience(ctx context.Context, taskID, excludeID int64) (*models.TaskAudience, error) {
	const q = `
		SELECT task.name,
			ARRAY(SELECT DISTINCT follower_id FROM task_follower
				WHERE task_follower.task_id = task.id AND follower_id <> $2 ORDER BY follower_id),
			ARRAY(SELECT DISTINCT project_id FROM task_project
				WHERE task_project.task_id = task.id ORDER BY project_id)
		FROM task
		WHERE task.id = $1`

	var (
		name      sql.NullString
		followers pq.Int64Array
		projects  pq.Int64Array
	)
	err := s.q.QueryRowContext(ctx, q, taskID, excludeID).Scan(&name, &followers, &projects)
	if err == sql.ErrNoRows {
		return &models.TaskAudience{FollowerIDs: []int64{}, ProjectIDs: []int64{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task audience: %w", err)
	}
	return &models.TaskAudience{
		TaskName:    name.String,
		FollowerIDs: []int64(followers),
		ProjectIDs:  []int64(projects),
	}, nil
}

func buildNotificationInsert(changeID int64, recipients []int64) (string, []any) {
	args := make([]any, 0, len(recipients)+1)
	args = append(args, changeID)
	rows := make([]string, len(recipients))
	for i, id := range recipients {
		args = append(args, id)
		rows[i] = fmt.Sprintf("($1, $%d, false)", len(args))
	}
	q := `INSERT INTO notification (change_id, recipient_id, is_read) VALUES ` +
		strings.Join(rows, ", ") + ` RETURNING id, recipient_id`
	return q, args
}

func (s *changeStore) InsertNotifications(ctx context.Context, changeID int64, recipients []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(recipients))
	if len(recipients) == 0 {
		return out, nil
	}

	q, args := buildNotificationInsert(changeID, recipients)
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("insert notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, recipient int64
		if err := rows.Scan(&id, &recipient); err != nil {
			return nil, err
		}
		out[recipient] = id
	}
	return out, rows.Err()
}

func (r *changeRepository) ListNotifications(ctx context.Context, recipientID int64, limit, offset int) ([]models.NotificationView, int, error) {
	const q = `
		SELECT n.id, n.is_read, c.id, c.change_type, c.actor_id, c.entity_id, c.target_id,
			c.task_id, COALESCE(t.name, ''), COALESCE(c.property_name, ''), c.new_value, c.create_date,
			COUNT(*) OVER()
		FROM notification n
		JOIN change c ON c.id = n.change_id
		LEFT JOIN task t ON t.id = c.task_id
		WHERE n.recipient_id = $1
		ORDER BY n.id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, q, recipientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out   []models.NotificationView
		total int
	)
	for rows.Next() {
		var (
			n   models.NotificationView
			raw sql.NullString
		)
		if err := rows.Scan(
			&n.ID, &n.IsRead, &n.ChangeID, &n.ChangeType, &n.ActorID, &n.EntityID, &n.TargetID,
			&n.TaskID, &n.TaskName, &n.PropertyName, &raw, &n.Timestamp, &total,
		); err != nil {
			return nil, 0, err
		}
		if raw.Valid {
			s := raw.String
			n.RawValue = &s
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}
