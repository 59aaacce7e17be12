package model

import (
	"time"

	"evalcollab/internal/permission"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
)

// Collaborator is the membership of one user on one assessment.
type Collaborator struct {
	ID           string           `json:"id"`
	AssessmentID string           `json:"assessment_id"`
	UserID       string           `json:"user_id"`
	Role         permission.Role  `json:"role"`
	Permissions  permission.Grant `json:"permissions"`
	InvitedBy    string           `json:"invited_by"`
	InvitedAt    time.Time        `json:"invited_at"`
	JoinedAt     *time.Time       `json:"joined_at,omitempty"`
	Status       Status           `json:"status"`
}

// Engine returns a permission engine for this membership snapshot.
func (c *Collaborator) Engine() *permission.Engine {
	return permission.New(c.Role, c.Permissions)
}

// Clone returns a deep copy.
func (c *Collaborator) Clone() *Collaborator {
	out := *c
	out.Permissions = c.Permissions.Clone()
	if c.JoinedAt != nil {
		joined := *c.JoinedAt
		out.JoinedAt = &joined
	}
	return &out
}

type PermissionUpdate struct {
	CollaboratorID string           `json:"collaborator_id"`
	Permissions    permission.Grant `json:"permissions"`
}

type InviteRequest struct {
	AssessmentID string            `json:"assessment_id"`
	UserID       string            `json:"user_id"`
	Role         permission.Role   `json:"role"`
	Permissions  *permission.Grant `json:"permissions,omitempty"`
}

type RespondRequest struct {
	CollaboratorID string `json:"collaborator_id"`
	Status         Status `json:"status"`
}

type AccessRequest struct {
	CollaboratorID string           `json:"collaborator_id"`
	Role           permission.Role  `json:"role"`
	Permissions    permission.Grant `json:"permissions"`
}

type BulkPermissionsRequest struct {
	AssessmentID string             `json:"assessment_id"`
	Updates      []PermissionUpdate `json:"updates"`
}
