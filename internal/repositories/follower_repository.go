package repositories

import (
	"context"
	"database/sql"
)

type FollowerRepository interface {
	EnsureFollowing(ctx context.Context, personID, taskID int64) error
}

type followerRepository struct {
	db *sql.DB
}

func NewFollowerRepository(db *sql.DB) FollowerRepository {
	return &followerRepository{db: db}
}

func (r *followerRepository) EnsureFollowing(ctx context.Context, personID, taskID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_follower (task_id, follower_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, taskID, personID)
	return err
}
