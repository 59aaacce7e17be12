package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"evalcollab/internal/membership/model"
	"evalcollab/internal/permission"
	"evalcollab/pkg/apperror"
)

// Memory keeps collaborators in process. It backs tests and the
// STORE_DRIVER=memory mode.
type Memory struct {
	mu     sync.Mutex
	byID   map[string]*model.Collaborator
	byUser map[string]string // assessmentID + "\x00" + userID -> id
}

func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[string]*model.Collaborator),
		byUser: make(map[string]string),
	}
}

func userKey(assessmentID, userID string) string {
	return assessmentID + "\x00" + userID
}

func (m *Memory) Insert(_ context.Context, c *model.Collaborator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userKey(c.AssessmentID, c.UserID)
	if _, exists := m.byUser[key]; exists {
		return apperror.ErrDuplicateMembership
	}
	m.byID[c.ID] = c.Clone()
	m.byUser[key] = c.ID
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*model.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) GetByUser(_ context.Context, assessmentID, userID string) (*model.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byUser[userKey(assessmentID, userID)]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *Memory) ListByAssessment(_ context.Context, assessmentID string) ([]model.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Collaborator, 0)
	for _, c := range m.byID {
		if c.AssessmentID == assessmentID {
			out = append(out, *c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InvitedAt.Equal(out[j].InvitedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].InvitedAt.After(out[j].InvitedAt)
	})
	return out, nil
}

func (m *Memory) Transition(_ context.Context, id string, status model.Status, joinedAt *time.Time) (*model.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	if c.Status != model.StatusPending {
		return nil, apperror.ErrInvalidTransition
	}
	c.Status = status
	if joinedAt != nil {
		joined := *joinedAt
		c.JoinedAt = &joined
	}
	return c.Clone(), nil
}

func (m *Memory) UpdateAccess(_ context.Context, id string, role permission.Role, grant permission.Grant) (*model.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	c.Role = role
	c.Permissions = grant.Clone()
	return c.Clone(), nil
}

func (m *Memory) UpdatePermissions(_ context.Context, id string, grant permission.Grant) (*model.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	c.Permissions = grant.Clone()
	return c.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return apperror.ErrNotFound
	}
	delete(m.byUser, userKey(c.AssessmentID, c.UserID))
	delete(m.byID, id)
	return nil
}
