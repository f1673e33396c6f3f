package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type TelegramLink struct {
	ID        int64
	PersonID  int64
	Code      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// TelegramLinkRepository stores one-time codes a person sends to the bot to
// attach their Telegram chat.
type TelegramLinkRepository interface {
	Create(ctx context.Context, personID int64, code string, ttl time.Duration) (*TelegramLink, error)
	// Redeem marks the code used and stores chatID on its person in one
	// transaction. Unknown, used or expired codes give ErrNotFound.
	Redeem(ctx context.Context, code string, chatID int64) (*TelegramLink, error)
}

type telegramLinkRepository struct{ db *sql.DB }

func NewTelegramLinkRepository(db *sql.DB) TelegramLinkRepository {
	return &telegramLinkRepository{db: db}
}

func (r *telegramLinkRepository) Create(ctx context.Context, personID int64, code string, ttl time.Duration) (*TelegramLink, error) {
	expiresAt := time.Now().Add(ttl)

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO telegram_link (person_id, code, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, person_id, code, expires_at, used, create_date
	`, personID, code, expiresAt)

	var l TelegramLink
	if err := row.Scan(&l.ID, &l.PersonID, &l.Code, &l.ExpiresAt, &l.Used, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *telegramLinkRepository) Redeem(ctx context.Context, code string, chatID int64) (*TelegramLink, error) {
	var l TelegramLink
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id, person_id, code, expires_at, used, create_date
			FROM telegram_link
			WHERE code = $1
			FOR UPDATE
		`, code).Scan(&l.ID, &l.PersonID, &l.Code, &l.ExpiresAt, &l.Used, &l.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if l.Used || time.Now().After(l.ExpiresAt) {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `UPDATE telegram_link SET used = true WHERE id = $1`, l.ID); err != nil {
			return err
		}
		// a chat belongs to one person at a time
		if _, err := tx.ExecContext(ctx,
			`UPDATE person SET telegram_chat_id = NULL WHERE telegram_chat_id = $1 AND id <> $2`, chatID, l.PersonID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE person SET telegram_chat_id = $1 WHERE id = $2`, chatID, l.PersonID)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Used = true
	return &l, nil
}
