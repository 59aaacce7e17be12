package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"evalcollab/config/database"
	"evalcollab/internal/membership/model"
	"evalcollab/internal/permission"
	"evalcollab/pkg/apperror"
	"evalcollab/pkg/logger"
)

const collaboratorColumns = `id, assessment_id, user_id, role, permissions, invited_by, invited_at, joined_at, status`

type CollaboratorRepository struct {
	DB *sql.DB
}

func NewCollaboratorRepository(db *sql.DB) *CollaboratorRepository {
	return &CollaboratorRepository{DB: db}
}

// Migrate creates the collaborators table when it does not exist.
func (r *CollaboratorRepository) Migrate(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS assessment_collaborators (
		id TEXT PRIMARY KEY,
		assessment_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		permissions JSONB NOT NULL DEFAULT '{}',
		invited_by TEXT NOT NULL,
		invited_at TIMESTAMPTZ NOT NULL,
		joined_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'pending',
		UNIQUE (assessment_id, user_id)
	)`)
	if err != nil {
		logger.Sugar.Errorf("Failed to migrate assessment_collaborators: %v", err)
		return database.Classify("migrate collaborators", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollaborator(row rowScanner) (*model.Collaborator, error) {
	var (
		c        model.Collaborator
		role     string
		status   string
		rawPerms []byte
		joinedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.AssessmentID, &c.UserID, &role, &rawPerms, &c.InvitedBy, &c.InvitedAt, &joinedAt, &status); err != nil {
		return nil, err
	}
	c.Role = permission.Role(role)
	c.Status = model.Status(status)
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &c.Permissions); err != nil {
			return nil, err
		}
	}
	if joinedAt.Valid {
		t := joinedAt.Time
		c.JoinedAt = &t
	}
	return &c, nil
}

func encodeGrant(g permission.Grant) (string, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *CollaboratorRepository) Insert(ctx context.Context, c *model.Collaborator) error {
	perms, err := encodeGrant(c.Permissions)
	if err != nil {
		return apperror.Invalid("permissions cannot be encoded")
	}
	var joinedAt any
	if c.JoinedAt != nil {
		joinedAt = *c.JoinedAt
	}

	result, err := r.DB.ExecContext(ctx, `INSERT INTO assessment_collaborators (`+collaboratorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (assessment_id, user_id) DO NOTHING`,
		c.ID, c.AssessmentID, c.UserID, string(c.Role), perms, c.InvitedBy, c.InvitedAt, joinedAt, string(c.Status))
	if err != nil {
		logger.Sugar.Errorf("Failed to insert collaborator %s on assessment %s: %v", c.UserID, c.AssessmentID, err)
		return database.Classify("insert collaborator", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return database.Classify("insert collaborator", err)
	}
	if affected == 0 {
		return apperror.ErrDuplicateMembership
	}
	return nil
}

func (r *CollaboratorRepository) Get(ctx context.Context, id string) (*model.Collaborator, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+collaboratorColumns+` FROM assessment_collaborators WHERE id = $1`, id)
	c, err := scanCollaborator(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to get collaborator %s: %v", id, err)
		}
		return nil, database.Classify("get collaborator", err)
	}
	return c, nil
}

func (r *CollaboratorRepository) GetByUser(ctx context.Context, assessmentID, userID string) (*model.Collaborator, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+collaboratorColumns+` FROM assessment_collaborators
		WHERE assessment_id = $1 AND user_id = $2`, assessmentID, userID)
	c, err := scanCollaborator(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to get collaborator %s on assessment %s: %v", userID, assessmentID, err)
		}
		return nil, database.Classify("get collaborator by user", err)
	}
	return c, nil
}

func (r *CollaboratorRepository) ListByAssessment(ctx context.Context, assessmentID string) ([]model.Collaborator, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+collaboratorColumns+` FROM assessment_collaborators
		WHERE assessment_id = $1 ORDER BY invited_at DESC, id DESC`, assessmentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list collaborators for assessment %s: %v", assessmentID, err)
		return nil, database.Classify("list collaborators", err)
	}
	defer rows.Close()

	out := make([]model.Collaborator, 0)
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			logger.Sugar.Errorf("Failed to scan collaborator row: %v", err)
			return nil, database.Classify("scan collaborator", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Classify("list collaborators", err)
	}
	return out, nil
}

func (r *CollaboratorRepository) Transition(ctx context.Context, id string, status model.Status, joinedAt *time.Time) (*model.Collaborator, error) {
	var joined any
	if joinedAt != nil {
		joined = *joinedAt
	}
	row := r.DB.QueryRowContext(ctx, `UPDATE assessment_collaborators
		SET status = $2, joined_at = COALESCE($3, joined_at)
		WHERE id = $1 AND status = 'pending'
		RETURNING `+collaboratorColumns, id, string(status), joined)
	c, err := scanCollaborator(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to transition collaborator %s to %s: %v", id, status, err)
		return nil, database.Classify("transition collaborator", err)
	}

	// Nothing matched: either the row is gone or it already left pending.
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM assessment_collaborators WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, database.Classify("check collaborator", err)
	}
	if !exists {
		return nil, apperror.ErrNotFound
	}
	return nil, apperror.ErrInvalidTransition
}

func (r *CollaboratorRepository) UpdateAccess(ctx context.Context, id string, role permission.Role, grant permission.Grant) (*model.Collaborator, error) {
	perms, err := encodeGrant(grant)
	if err != nil {
		return nil, apperror.Invalid("permissions cannot be encoded")
	}
	row := r.DB.QueryRowContext(ctx, `UPDATE assessment_collaborators SET role = $2, permissions = $3
		WHERE id = $1 RETURNING `+collaboratorColumns, id, string(role), perms)
	c, err := scanCollaborator(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to update access for collaborator %s: %v", id, err)
		}
		return nil, database.Classify("update collaborator access", err)
	}
	return c, nil
}

func (r *CollaboratorRepository) UpdatePermissions(ctx context.Context, id string, grant permission.Grant) (*model.Collaborator, error) {
	perms, err := encodeGrant(grant)
	if err != nil {
		return nil, apperror.Invalid("permissions cannot be encoded")
	}
	row := r.DB.QueryRowContext(ctx, `UPDATE assessment_collaborators SET permissions = $2
		WHERE id = $1 RETURNING `+collaboratorColumns, id, perms)
	c, err := scanCollaborator(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to update permissions for collaborator %s: %v", id, err)
		}
		return nil, database.Classify("update collaborator permissions", err)
	}
	return c, nil
}

func (r *CollaboratorRepository) Delete(ctx context.Context, id string) error {
	result, err := r.DB.ExecContext(ctx, "DELETE FROM assessment_collaborators WHERE id = $1", id)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete collaborator %s: %v", id, err)
		return database.Classify("delete collaborator", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return database.Classify("delete collaborator", err)
	}
	if affected == 0 {
		return apperror.ErrNotFound
	}
	return nil
}
