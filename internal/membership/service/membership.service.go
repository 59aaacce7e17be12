package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"evalcollab/internal/membership/model"
	"evalcollab/internal/permission"
	"evalcollab/pkg/apperror"
	"evalcollab/pkg/logger"

	"github.com/google/uuid"
)

// Store is the persistence the directory needs. Implementations must keep
// (assessment_id, user_id) unique and report it with ErrDuplicateMembership.
type Store interface {
	Insert(ctx context.Context, c *model.Collaborator) error
	Get(ctx context.Context, id string) (*model.Collaborator, error)
	GetByUser(ctx context.Context, assessmentID, userID string) (*model.Collaborator, error)
	ListByAssessment(ctx context.Context, assessmentID string) ([]model.Collaborator, error)
	// Transition moves a pending row to status. A row that is no longer
	// pending yields ErrInvalidTransition.
	Transition(ctx context.Context, id string, status model.Status, joinedAt *time.Time) (*model.Collaborator, error)
	UpdateAccess(ctx context.Context, id string, role permission.Role, grant permission.Grant) (*model.Collaborator, error)
	UpdatePermissions(ctx context.Context, id string, grant permission.Grant) (*model.Collaborator, error)
	Delete(ctx context.Context, id string) error
}

// Directory is the authoritative record of who may act on an assessment.
// It does not check the caller's permissions; the orchestrating layer does.
type Directory struct {
	Store Store
	newID func() string
	now   func() time.Time
}

// NewDirectory builds a directory. Nil newID or now fall back to uuid and
// the wall clock.
func NewDirectory(store Store, newID func() string, now func() time.Time) *Directory {
	if newID == nil {
		newID = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &Directory{Store: store, newID: newID, now: now}
}

// Invite creates a pending membership. A nil grant means role defaults.
func (d *Directory) Invite(ctx context.Context, assessmentID, userID string, role permission.Role, invitedBy string, grant *permission.Grant) (*model.Collaborator, error) {
	assessmentID = strings.TrimSpace(assessmentID)
	userID = strings.TrimSpace(userID)
	if assessmentID == "" || userID == "" {
		return nil, apperror.Invalid("assessment id and user id are required")
	}
	if !role.Valid() {
		return nil, apperror.Invalid(fmt.Sprintf("unknown role %q", role))
	}

	perms := permission.DefaultGrant(role)
	if grant != nil {
		perms = grant.Clone()
	}

	c := &model.Collaborator{
		ID:           d.newID(),
		AssessmentID: assessmentID,
		UserID:       userID,
		Role:         role,
		Permissions:  perms,
		InvitedBy:    invitedBy,
		InvitedAt:    d.now().UTC(),
		Status:       model.StatusPending,
	}
	if err := d.Store.Insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// EnrollOwner records the assessment owner as an accepted collaborator with
// owner defaults. An existing row for the owner is returned unchanged.
func (d *Directory) EnrollOwner(ctx context.Context, assessmentID, ownerID string) (*model.Collaborator, error) {
	now := d.now().UTC()
	c := &model.Collaborator{
		ID:           d.newID(),
		AssessmentID: assessmentID,
		UserID:       ownerID,
		Role:         permission.RoleOwner,
		Permissions:  permission.DefaultGrant(permission.RoleOwner),
		InvitedBy:    ownerID,
		InvitedAt:    now,
		JoinedAt:     &now,
		Status:       model.StatusAccepted,
	}
	err := d.Store.Insert(ctx, c)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, apperror.ErrDuplicateMembership) {
		return d.Store.GetByUser(ctx, assessmentID, ownerID)
	}
	return nil, err
}

// Respond accepts or declines a pending invitation. It can happen once.
func (d *Directory) Respond(ctx context.Context, collaboratorID string, status model.Status) (*model.Collaborator, error) {
	var joinedAt *time.Time
	switch status {
	case model.StatusAccepted:
		now := d.now().UTC()
		joinedAt = &now
	case model.StatusDeclined:
	default:
		return nil, apperror.Invalid(fmt.Sprintf("cannot respond with status %q", status))
	}
	return d.Store.Transition(ctx, collaboratorID, status, joinedAt)
}

// Get returns one collaborator by id.
func (d *Directory) Get(ctx context.Context, collaboratorID string) (*model.Collaborator, error) {
	return d.Store.Get(ctx, collaboratorID)
}

// List returns the assessment's collaborators, newest invitation first.
func (d *Directory) List(ctx context.Context, assessmentID string) ([]model.Collaborator, error) {
	return d.Store.ListByAssessment(ctx, assessmentID)
}

// Remove hard-deletes a collaborator. Missing rows are reported as ErrNotFound.
func (d *Directory) Remove(ctx context.Context, collaboratorID string) error {
	return d.Store.Delete(ctx, collaboratorID)
}

// UpdateRoleAndPermissions replaces role and grant wholesale.
func (d *Directory) UpdateRoleAndPermissions(ctx context.Context, collaboratorID string, role permission.Role, grant permission.Grant) (*model.Collaborator, error) {
	if !role.Valid() {
		return nil, apperror.Invalid(fmt.Sprintf("unknown role %q", role))
	}
	return d.Store.UpdateAccess(ctx, collaboratorID, role, grant.Clone())
}

// BulkUpdatePermissions applies each update on its own. Failed entries are
// logged and left out; the result holds the successes in input order.
// Callers detect partial failure by comparing lengths.
func (d *Directory) BulkUpdatePermissions(ctx context.Context, updates []model.PermissionUpdate) []model.Collaborator {
	out := make([]model.Collaborator, 0, len(updates))
	for _, u := range updates {
		c, err := d.Store.UpdatePermissions(ctx, u.CollaboratorID, u.Permissions.Clone())
		if err != nil {
			logger.Sugar.Warnf("Bulk permission update skipped collaborator %s: %v", u.CollaboratorID, err)
			continue
		}
		out = append(out, *c)
	}
	return out
}

// Membership returns the accepted membership of userID, or nil when there is
// none. Pending and declined rows do not count.
func (d *Directory) Membership(ctx context.Context, assessmentID, userID string) (*model.Collaborator, error) {
	c, err := d.Store.GetByUser(ctx, assessmentID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if c.Status != model.StatusAccepted {
		return nil, nil
	}
	return c, nil
}

// GetEffectivePermissions returns the grant of an accepted collaborator, or
// nil when the user is not a participant.
func (d *Directory) GetEffectivePermissions(ctx context.Context, assessmentID, userID string) (*permission.Grant, error) {
	c, err := d.Membership(ctx, assessmentID, userID)
	if err != nil || c == nil {
		return nil, err
	}
	grant := c.Permissions.Clone()
	return &grant, nil
}
