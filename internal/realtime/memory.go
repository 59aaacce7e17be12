package realtime

import (
	"context"
	"sort"
	"sync"
)

type memorySub struct {
	id int
	fn Handler
}

// Memory is an in-process transport. Publish runs handlers on the caller's
// goroutine before returning.
type Memory struct {
	mu       sync.Mutex
	nextID   int
	subs     map[string][]memorySub
	presence map[string]map[string]Member
}

func NewMemory() *Memory {
	return &Memory{
		subs:     make(map[string][]memorySub),
		presence: make(map[string]map[string]Member),
	}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.subs[channel]))
	for _, s := range m.subs[channel] {
		handlers = append(handlers, s.fn)
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(payload)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string, fn Handler) (func(), error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[channel] = append(m.subs[channel], memorySub{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			list := m.subs[channel]
			for i, s := range list {
				if s.id == id {
					m.subs[channel] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(m.subs[channel]) == 0 {
				delete(m.subs, channel)
			}
		})
	}, nil
}

func (m *Memory) Track(_ context.Context, channel string, member Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.presence[channel]
	if !ok {
		set = make(map[string]Member)
		m.presence[channel] = set
	}
	set[member.UserID] = member
	return nil
}

func (m *Memory) Untrack(_ context.Context, channel, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.presence[channel]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(m.presence, channel)
		}
	}
	return nil
}

func (m *Memory) Members(_ context.Context, channel string) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Member, 0, len(m.presence[channel]))
	for _, member := range m.presence[channel] {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Subscribers reports how many handlers are attached to channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}
