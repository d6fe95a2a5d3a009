package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/alfredjeanlab/coedit/internal/model"
)

// sessionColumns is the column list used for SELECT statements on the sessions table.
const sessionColumns = `id, creator_id, code, locked, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateSession(ctx context.Context, db executor, s *model.Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (id, creator_id, code, locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.CreatorID, s.Code, s.Locked, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func queryGetSession(ctx context.Context, db executor, id string) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func queryListSessions(ctx context.Context, db executor) ([]*model.Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func querySetCode(ctx context.Context, db executor, id, code string, now time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET code = $2, updated_at = $3 WHERE id = $1`,
		id, code, now)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func querySetLocked(ctx context.Context, db executor, id string, locked bool, now time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET locked = $2, updated_at = $3 WHERE id = $1`,
		id, locked, now)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// queryAddParticipant inserts a roster entry unless one already exists for
// the (session, name) pair.
func queryAddParticipant(ctx context.Context, db executor, sessionID, name string, role model.Role, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO participants (session_id, name, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, name) DO NOTHING`,
		sessionID, name, string(role), now)
	return err
}

func queryRemoveParticipant(ctx context.Context, db executor, sessionID, name string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM participants WHERE session_id = $1 AND name = $2`,
		sessionID, name)
	return err
}

func queryListParticipants(ctx context.Context, db executor, sessionID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM participants WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// requireRow returns sql.ErrNoRows when an UPDATE matched nothing.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
