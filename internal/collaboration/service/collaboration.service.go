package service

import (
	"context"
	"errors"
	"fmt"

	activitymodel "evalcollab/internal/activity/model"
	activityservice "evalcollab/internal/activity/service"
	membershipmodel "evalcollab/internal/membership/model"
	membershipservice "evalcollab/internal/membership/service"
	"evalcollab/internal/permission"
	presencemodel "evalcollab/internal/presence/model"
	presenceservice "evalcollab/internal/presence/service"
	"evalcollab/pkg/apperror"
	"evalcollab/pkg/logger"
)

// OwnerLookup tells who owns an assessment. "" means unknown.
type OwnerLookup interface {
	OwnerID(ctx context.Context, assessmentID string) (string, error)
}

// Disconnector drops a user's live connections to an assessment and reports
// whether any were open. Closing a connection ends its presence session.
type Disconnector interface {
	DisconnectUser(assessmentID, userID string) bool
}

// Coordinator puts every client action through the permission engine before
// it reaches the directory, the tracker or the bus.
type Coordinator struct {
	Directory *membershipservice.Directory
	Tracker   *presenceservice.Tracker
	Bus       *activityservice.Bus

	owners       OwnerLookup
	disconnector Disconnector
}

func NewCoordinator(directory *membershipservice.Directory, tracker *presenceservice.Tracker, bus *activityservice.Bus, owners OwnerLookup) *Coordinator {
	return &Coordinator{Directory: directory, Tracker: tracker, Bus: bus, owners: owners}
}

// SetDisconnector registers who to tell when a collaborator is removed.
func (c *Coordinator) SetDisconnector(d Disconnector) { c.disconnector = d }

// Actor returns the accepted membership of userID, enrolling the assessment
// owner on first contact. nil means the user is not a participant.
func (c *Coordinator) Actor(ctx context.Context, assessmentID, userID string) (*membershipmodel.Collaborator, error) {
	if assessmentID == "" || userID == "" {
		return nil, apperror.Invalid("assessment id and user id are required")
	}
	m, err := c.Directory.Membership(ctx, assessmentID, userID)
	if err != nil || m != nil {
		return m, err
	}
	if c.owners == nil {
		return nil, nil
	}

	ownerID, err := c.owners.OwnerID(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if ownerID == "" || ownerID != userID {
		return nil, nil
	}
	owner, err := c.Directory.EnrollOwner(ctx, assessmentID, userID)
	if err != nil {
		return nil, err
	}
	if owner.Status != membershipmodel.StatusAccepted {
		return nil, nil
	}
	logger.Sugar.Infof("Enrolled owner %s on assessment %s", userID, assessmentID)
	return owner, nil
}

func (c *Coordinator) engine(ctx context.Context, assessmentID, userID string) (*permission.Engine, error) {
	actor, err := c.Actor(ctx, assessmentID, userID)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, apperror.Denied("not a participant of this assessment")
	}
	return actor.Engine(), nil
}

func (c *Coordinator) require(ctx context.Context, assessmentID, userID, action string) error {
	e, err := c.engine(ctx, assessmentID, userID)
	if err != nil {
		return err
	}
	if !e.CanPerformAction(action) {
		return apperror.Denied(action)
	}
	return nil
}

// collaborator loads one row by id.
func (c *Coordinator) collaborator(ctx context.Context, collaboratorID string) (*membershipmodel.Collaborator, error) {
	if collaboratorID == "" {
		return nil, apperror.Invalid("collaborator id is required")
	}
	return c.Directory.Get(ctx, collaboratorID)
}

func (c *Coordinator) Invite(ctx context.Context, actorID string, req membershipmodel.InviteRequest) (*membershipmodel.Collaborator, error) {
	if err := c.require(ctx, req.AssessmentID, actorID, permission.ActionInviteCollaborator); err != nil {
		return nil, err
	}
	if req.Role == permission.RoleOwner {
		return nil, apperror.Invalid("owner role cannot be granted by invitation")
	}
	invited, err := c.Directory.Invite(ctx, req.AssessmentID, req.UserID, req.Role, actorID, req.Permissions)
	if err != nil {
		return nil, err
	}
	c.Tracker.Refresh(ctx, req.AssessmentID)
	return invited, nil
}

// Respond lets the invitee, and only the invitee, accept or decline.
func (c *Coordinator) Respond(ctx context.Context, actorID string, req membershipmodel.RespondRequest) (*membershipmodel.Collaborator, error) {
	invitation, err := c.collaborator(ctx, req.CollaboratorID)
	if err != nil {
		return nil, err
	}
	if invitation.UserID != actorID {
		return nil, apperror.Denied("respond to another user's invitation")
	}
	updated, err := c.Directory.Respond(ctx, req.CollaboratorID, req.Status)
	if err != nil {
		return nil, err
	}
	c.Tracker.Refresh(ctx, updated.AssessmentID)
	return updated, nil
}

// Remove deletes a collaborator and drops their live connections.
func (c *Coordinator) Remove(ctx context.Context, actorID, collaboratorID string) error {
	target, err := c.collaborator(ctx, collaboratorID)
	if err != nil {
		return err
	}
	if err := c.require(ctx, target.AssessmentID, actorID, permission.ActionRemoveCollaborator); err != nil {
		return err
	}
	if target.Role == permission.RoleOwner {
		return apperror.Denied("remove the assessment owner")
	}
	if err := c.Directory.Remove(ctx, collaboratorID); err != nil {
		return err
	}

	if c.disconnector != nil && c.disconnector.DisconnectUser(target.AssessmentID, target.UserID) {
		return nil
	}
	if err := c.Tracker.Leave(ctx, target.AssessmentID, target.UserID); err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			logger.Sugar.Warnf("Failed to end session of removed collaborator %s: %v", target.UserID, err)
		}
		c.Tracker.Refresh(ctx, target.AssessmentID)
	}
	return nil
}

func (c *Coordinator) UpdateAccess(ctx context.Context, actorID string, req membershipmodel.AccessRequest) (*membershipmodel.Collaborator, error) {
	target, err := c.collaborator(ctx, req.CollaboratorID)
	if err != nil {
		return nil, err
	}
	if err := c.require(ctx, target.AssessmentID, actorID, permission.ActionChangeRole); err != nil {
		return nil, err
	}
	if target.Role == permission.RoleOwner || req.Role == permission.RoleOwner {
		return nil, apperror.Denied("change ownership")
	}
	updated, err := c.Directory.UpdateRoleAndPermissions(ctx, req.CollaboratorID, req.Role, req.Permissions)
	if err != nil {
		return nil, err
	}
	c.Tracker.Refresh(ctx, target.AssessmentID)
	return updated, nil
}

// BulkUpdatePermissions applies the updates that belong to the assessment and
// skips the rest. The result holds the successes in input order.
func (c *Coordinator) BulkUpdatePermissions(ctx context.Context, actorID string, req membershipmodel.BulkPermissionsRequest) ([]membershipmodel.Collaborator, error) {
	if err := c.require(ctx, req.AssessmentID, actorID, permission.ActionChangeRole); err != nil {
		return nil, err
	}

	scoped := make([]membershipmodel.PermissionUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		target, err := c.Directory.Get(ctx, u.CollaboratorID)
		switch {
		case err != nil:
			logger.Sugar.Warnf("Bulk permission update skipped collaborator %s: %v", u.CollaboratorID, err)
		case target.AssessmentID != req.AssessmentID:
			logger.Sugar.Warnf("Bulk permission update skipped collaborator %s from assessment %s", u.CollaboratorID, target.AssessmentID)
		case target.Role == permission.RoleOwner:
			logger.Sugar.Warnf("Bulk permission update skipped owner row %s", u.CollaboratorID)
		default:
			scoped = append(scoped, u)
		}
	}

	updated := c.Directory.BulkUpdatePermissions(ctx, scoped)
	if len(updated) > 0 {
		c.Tracker.Refresh(ctx, req.AssessmentID)
	}
	return updated, nil
}

func (c *Coordinator) List(ctx context.Context, actorID, assessmentID string) ([]membershipmodel.Collaborator, error) {
	if _, err := c.engine(ctx, assessmentID, actorID); err != nil {
		return nil, err
	}
	return c.Directory.List(ctx, assessmentID)
}

func (c *Coordinator) Feed(ctx context.Context, actorID, assessmentID string, limit int) ([]activitymodel.FeedItem, error) {
	if _, err := c.engine(ctx, assessmentID, actorID); err != nil {
		return nil, err
	}
	return c.Bus.Recent(ctx, assessmentID, limit)
}

func (c *Coordinator) Join(ctx context.Context, actorID, assessmentID string, sectionID *string) (*presencemodel.Session, error) {
	if _, err := c.engine(ctx, assessmentID, actorID); err != nil {
		return nil, err
	}
	return c.Tracker.Join(ctx, assessmentID, actorID, sectionID)
}

func (c *Coordinator) Heartbeat(ctx context.Context, actorID, assessmentID string, sectionID *string) error {
	if _, err := c.engine(ctx, assessmentID, actorID); err != nil {
		return err
	}
	return c.Tracker.Heartbeat(ctx, assessmentID, actorID, sectionID)
}

// Leave needs no membership so a removed collaborator can still close out.
func (c *Coordinator) Leave(ctx context.Context, actorID, assessmentID string) error {
	return c.Tracker.Leave(ctx, assessmentID, actorID)
}

// Live lists who is present. Seeing it is a capability of its own.
func (c *Coordinator) Live(ctx context.Context, actorID, assessmentID string) ([]presencemodel.Session, error) {
	e, err := c.engine(ctx, assessmentID, actorID)
	if err != nil {
		return nil, err
	}
	if !e.CanSeeLiveCollaboration() {
		return nil, apperror.Denied("see live collaboration")
	}
	return c.Tracker.ListLive(ctx, assessmentID)
}

// RecordActivity checks the actor may do what the event describes and logs
// it. joined and left are written by the tracker alone.
func (c *Coordinator) RecordActivity(ctx context.Context, actorID string, req activitymodel.RecordRequest) (activitymodel.LogOutcome, error) {
	if !req.Type.Valid() {
		return activitymodel.LogOutcome{}, apperror.Invalid(fmt.Sprintf("unknown activity type %q", req.Type))
	}
	if req.Type.Reserved() {
		return activitymodel.LogOutcome{}, apperror.Invalid(fmt.Sprintf("activity type %q is recorded by presence", req.Type))
	}

	e, err := c.engine(ctx, req.AssessmentID, actorID)
	if err != nil {
		return activitymodel.LogOutcome{}, err
	}

	switch req.Type {
	case activitymodel.TypeCommentAdded:
		if !e.CanComment() {
			return activitymodel.LogOutcome{}, apperror.Denied("comment")
		}
	default:
		if req.SectionID == nil || *req.SectionID == "" {
			return activitymodel.LogOutcome{}, apperror.Invalid(fmt.Sprintf("%s needs a section id", req.Type))
		}
		if !e.CanEvaluateSection(*req.SectionID) {
			return activitymodel.LogOutcome{}, apperror.Denied("evaluate section " + *req.SectionID)
		}
	}

	outcome := c.Bus.Log(ctx, activitymodel.Entry{
		AssessmentID: req.AssessmentID,
		UserID:       actorID,
		Type:         req.Type,
		Data:         req.Data,
		SectionID:    req.SectionID,
		CriterionID:  req.CriterionID,
	})
	return outcome, nil
}

// Authorize answers a single action check. Non-participants get false.
func (c *Coordinator) Authorize(ctx context.Context, actorID, assessmentID, action string) (bool, error) {
	actor, err := c.Actor(ctx, assessmentID, actorID)
	if err != nil || actor == nil {
		return false, err
	}
	return actor.Engine().CanPerformAction(action), nil
}

// PermissionsView is what a client needs to render the actor's capabilities.
type PermissionsView struct {
	AssessmentID     string                `json:"assessment_id"`
	Role             permission.Role       `json:"role"`
	Permissions      permission.Grant      `json:"permissions"`
	Summary          []permission.Category `json:"summary"`
	IsOwner          bool                  `json:"is_owner"`
	AnyEvaluation    bool                  `json:"has_any_evaluation_permission"`
	AnyCollaboration bool                  `json:"has_any_collaboration_permission"`
	AnyReporting     bool                  `json:"has_any_reporting_permission"`
	Administrative   bool                  `json:"has_administrative_permissions"`
}

func (c *Coordinator) Permissions(ctx context.Context, actorID, assessmentID string) (*PermissionsView, error) {
	e, err := c.engine(ctx, assessmentID, actorID)
	if err != nil {
		return nil, err
	}
	return &PermissionsView{
		AssessmentID:     assessmentID,
		Role:             e.Role(),
		Permissions:      e.Grant(),
		Summary:          e.Summarize(),
		IsOwner:          e.IsOwner(),
		AnyEvaluation:    e.HasAnyEvaluationPermission(),
		AnyCollaboration: e.HasAnyCollaborationPermission(),
		AnyReporting:     e.HasAnyReportingPermission(),
		Administrative:   e.HasAdministrativePermissions(),
	}, nil
}
