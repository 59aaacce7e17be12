package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"evalcollab/internal/presence/model"
	"evalcollab/pkg/apperror"
)

type Memory struct {
	mu       sync.Mutex
	sessions map[string]*model.Session // assessmentID + "\x00" + userID
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*model.Session)}
}

func sessionKey(assessmentID, userID string) string {
	return assessmentID + "\x00" + userID
}

func (m *Memory) Join(_ context.Context, s *model.Session) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(s.AssessmentID, s.UserID)
	next := s.Clone()
	next.SessionEnd = nil
	if existing, ok := m.sessions[key]; ok {
		next.ID = existing.ID
	}
	m.sessions[key] = next
	return next.Clone(), nil
}

func (m *Memory) Heartbeat(_ context.Context, s *model.Session) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(s.AssessmentID, s.UserID)
	existing, ok := m.sessions[key]
	if !ok {
		next := s.Clone()
		next.SessionEnd = nil
		m.sessions[key] = next
		return next.Clone(), nil
	}

	existing.Status = model.StatusActive
	existing.LastActivityAt = s.LastActivityAt
	existing.SessionEnd = nil
	if s.CurrentSectionID != nil {
		section := *s.CurrentSectionID
		existing.CurrentSectionID = &section
	}
	return existing.Clone(), nil
}

func (m *Memory) Disconnect(_ context.Context, assessmentID, userID string, at time.Time) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[sessionKey(assessmentID, userID)]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	existing.Status = model.StatusDisconnected
	end := at
	existing.SessionEnd = &end
	return existing.Clone(), nil
}

func (m *Memory) ListActiveSince(_ context.Context, assessmentID string, cutoff time.Time) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Session, 0)
	for _, s := range m.sessions {
		if s.AssessmentID == assessmentID && s.Status == model.StatusActive && s.LastActivityAt.After(cutoff) {
			out = append(out, *s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// Count returns how many rows exist for the assessment, live or not.
func (m *Memory) Count(assessmentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		if s.AssessmentID == assessmentID {
			n++
		}
	}
	return n
}
