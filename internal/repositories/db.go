package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlValue converts a decoded JSON value into something the driver accepts.
// Objects and arrays are stored as JSON text.
func sqlValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64, time.Time:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return t
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildInsert renders INSERT INTO table (...) VALUES (...), columns sorted
// so statements are stable. Identifiers must already be validated against
// the metadata; they are quoted regardless.
func buildInsert(table string, values map[string]any, returnID bool) (string, []any) {
	cols := sortedKeys(values)
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = pq.QuoteIdentifier(col)
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = sqlValue(values[col])
	}

	var q string
	if len(cols) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", pq.QuoteIdentifier(table))
	} else {
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
	}
	if returnID {
		q += " RETURNING id"
	}
	return q, args
}

// buildUpdate renders UPDATE table SET ... WHERE k1=$n AND k2=$m.
func buildUpdate(table string, values, keys map[string]any) (string, []any) {
	args := make([]any, 0, len(values)+len(keys))
	sets := make([]string, 0, len(values))
	for _, col := range sortedKeys(values) {
		args = append(args, sqlValue(values[col]))
		sets = append(sets, fmt.Sprintf("%s=$%d", pq.QuoteIdentifier(col), len(args)))
	}
	where, args := buildWhere(keys, args)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s", pq.QuoteIdentifier(table), strings.Join(sets, ", "), where)
	return q, args
}

func buildDelete(table string, keys map[string]any) (string, []any) {
	where, args := buildWhere(keys, nil)
	return fmt.Sprintf("DELETE FROM %s WHERE %s", pq.QuoteIdentifier(table), where), args
}

func buildWhere(keys map[string]any, args []any) (string, []any) {
	conds := make([]string, 0, len(keys))
	for _, col := range sortedKeys(keys) {
		args = append(args, sqlValue(keys[col]))
		conds = append(conds, fmt.Sprintf("%s=$%d", pq.QuoteIdentifier(col), len(args)))
	}
	return strings.Join(conds, " AND "), args
}

// expectRows turns a statement that touched nothing into ErrNotFound.
func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
