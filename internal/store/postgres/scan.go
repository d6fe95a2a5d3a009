package postgres

import (
	"database/sql"

	"github.com/alfredjeanlab/coedit/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a model.Session.
// The row must contain columns in the order defined by sessionColumns.
func scanSession(row scannable) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.CreatorID,
		&s.Code,
		&s.Locked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// scanSessions scans multiple rows into a slice of model.Session pointers.
func scanSessions(rows *sql.Rows) ([]*model.Session, error) {
	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
