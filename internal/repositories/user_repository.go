package repositories

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"taskboard/internal/models"
)

type PersonRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Person, error)
	GetByEmail(ctx context.Context, email string) (*models.Person, error)
	IDsByUsernames(ctx context.Context, usernames []string) ([]int64, error)
	ListByIDs(ctx context.Context, ids []int64) ([]models.Person, error)
}

type personRepository struct {
	DB *sql.DB
}

func NewPersonRepository(db *sql.DB) PersonRepository {
	return &personRepository{DB: db}
}

const personColumns = `id, COALESCE(username, ''), COALESCE(email, ''), COALESCE(password_hash, ''), COALESCE(telegram_chat_id, 0)`

func scanPerson(row interface{ Scan(...any) error }) (*models.Person, error) {
	p := &models.Person{}
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PasswordHash, &p.TelegramChatID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *personRepository) GetByID(ctx context.Context, id int64) (*models.Person, error) {
	p, err := scanPerson(r.DB.QueryRowContext(ctx, `SELECT `+personColumns+` FROM person WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *personRepository) GetByEmail(ctx context.Context, email string) (*models.Person, error) {
	p, err := scanPerson(r.DB.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM person WHERE lower(email) = lower($1)`, email))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *personRepository) IDsByUsernames(ctx context.Context, usernames []string) ([]int64, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id FROM person WHERE username = ANY($1) ORDER BY id`, pq.Array(usernames))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *personRepository) ListByIDs(ctx context.Context, ids []int64) ([]models.Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+personColumns+` FROM person WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
