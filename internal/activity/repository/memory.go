package repository

import (
	"context"
	"sync"

	"evalcollab/internal/activity/model"
)

// Memory keeps the feed in insertion order per assessment.
type Memory struct {
	mu    sync.Mutex
	items map[string][]model.FeedItem
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]model.FeedItem)}
}

func (m *Memory) Insert(_ context.Context, item *model.FeedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.AssessmentID] = append(m.items[item.AssessmentID], *item)
	return nil
}

func (m *Memory) Recent(_ context.Context, assessmentID string, limit int) ([]model.FeedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.items[assessmentID]
	out := make([]model.FeedItem, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
