package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"evalcollab/config/database"
	"evalcollab/internal/presence/model"
	"evalcollab/pkg/logger"
)

const sessionColumns = `id, assessment_id, user_id, current_section_id, status, last_activity_at, session_start, session_end`

type SessionRepository struct {
	DB *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

// Migrate creates the sessions table when it does not exist.
func (r *SessionRepository) Migrate(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS collaboration_sessions (
		id TEXT PRIMARY KEY,
		assessment_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		current_section_id TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		last_activity_at TIMESTAMPTZ NOT NULL,
		session_start TIMESTAMPTZ NOT NULL,
		session_end TIMESTAMPTZ,
		UNIQUE (assessment_id, user_id)
	)`)
	if err != nil {
		logger.Sugar.Errorf("Failed to migrate collaboration_sessions: %v", err)
		return database.Classify("migrate sessions", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s       model.Session
		section sql.NullString
		status  string
		end     sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.AssessmentID, &s.UserID, &section, &status, &s.LastActivityAt, &s.SessionStart, &end); err != nil {
		return nil, err
	}
	s.Status = model.Status(status)
	if section.Valid {
		v := section.String
		s.CurrentSectionID = &v
	}
	if end.Valid {
		t := end.Time
		s.SessionEnd = &t
	}
	return &s, nil
}

func nullableSection(section *string) any {
	if section == nil {
		return nil
	}
	return *section
}

func (r *SessionRepository) Join(ctx context.Context, s *model.Session) (*model.Session, error) {
	row := r.DB.QueryRowContext(ctx, `INSERT INTO collaboration_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
		ON CONFLICT (assessment_id, user_id) DO UPDATE SET
			current_section_id = EXCLUDED.current_section_id,
			status = EXCLUDED.status,
			last_activity_at = EXCLUDED.last_activity_at,
			session_start = EXCLUDED.session_start,
			session_end = NULL
		RETURNING `+sessionColumns,
		s.ID, s.AssessmentID, s.UserID, nullableSection(s.CurrentSectionID), string(s.Status), s.LastActivityAt, s.SessionStart)
	out, err := scanSession(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to upsert session for %s on assessment %s: %v", s.UserID, s.AssessmentID, err)
		return nil, database.Classify("join session", err)
	}
	return out, nil
}

func (r *SessionRepository) Heartbeat(ctx context.Context, s *model.Session) (*model.Session, error) {
	row := r.DB.QueryRowContext(ctx, `INSERT INTO collaboration_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, 'active', $5, $6, NULL)
		ON CONFLICT (assessment_id, user_id) DO UPDATE SET
			current_section_id = COALESCE(EXCLUDED.current_section_id, collaboration_sessions.current_section_id),
			status = 'active',
			last_activity_at = EXCLUDED.last_activity_at,
			session_end = NULL
		RETURNING `+sessionColumns,
		s.ID, s.AssessmentID, s.UserID, nullableSection(s.CurrentSectionID), s.LastActivityAt, s.SessionStart)
	out, err := scanSession(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to record heartbeat for %s on assessment %s: %v", s.UserID, s.AssessmentID, err)
		return nil, database.Classify("heartbeat session", err)
	}
	return out, nil
}

func (r *SessionRepository) Disconnect(ctx context.Context, assessmentID, userID string, at time.Time) (*model.Session, error) {
	row := r.DB.QueryRowContext(ctx, `UPDATE collaboration_sessions
		SET status = 'disconnected', session_end = $3
		WHERE assessment_id = $1 AND user_id = $2
		RETURNING `+sessionColumns, assessmentID, userID, at)
	out, err := scanSession(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to disconnect session for %s on assessment %s: %v", userID, assessmentID, err)
		}
		return nil, database.Classify("disconnect session", err)
	}
	return out, nil
}

func (r *SessionRepository) ListActiveSince(ctx context.Context, assessmentID string, cutoff time.Time) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM collaboration_sessions
		WHERE assessment_id = $1 AND status = 'active' AND last_activity_at > $2
		ORDER BY last_activity_at DESC, user_id ASC`, assessmentID, cutoff)
	if err != nil {
		logger.Sugar.Errorf("Failed to list live sessions for assessment %s: %v", assessmentID, err)
		return nil, database.Classify("list sessions", err)
	}
	defer rows.Close()

	out := make([]model.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			logger.Sugar.Errorf("Failed to scan session row: %v", err)
			return nil, database.Classify("scan session", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Classify("list sessions", err)
	}
	return out, nil
}
