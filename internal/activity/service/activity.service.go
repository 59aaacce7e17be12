package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"evalcollab/internal/activity/model"
	presencemodel "evalcollab/internal/presence/model"
	"evalcollab/internal/realtime"
	"evalcollab/pkg/apperror"
	"evalcollab/pkg/logger"

	"github.com/google/uuid"
)

// DefaultPageSize is used by Recent when the caller passes no limit.
const DefaultPageSize = 20

// DefaultMaxPageSize caps what a single Recent call may ask for.
const DefaultMaxPageSize = 100

type Store interface {
	Insert(ctx context.Context, item *model.FeedItem) error
	// Recent returns at most limit items, newest first.
	Recent(ctx context.Context, assessmentID string, limit int) ([]model.FeedItem, error)
}

// Exporter forwards logged items to systems outside the process.
type Exporter interface {
	Export(ctx context.Context, item *model.FeedItem) error
}

type (
	SessionsFunc func(sessions []presencemodel.Session)
	ActivityFunc func(item model.FeedItem)
	PresenceFunc func(members []realtime.Member)
)

// Subscription is a handle returned by Subscribe and SubscribePresence.
type Subscription struct {
	ID           string
	AssessmentID string
	ConsumerID   string

	key    string
	cancel func()
	once   sync.Once

	channel string
	member  realtime.Member
}

// Bus appends to the activity feed and fans changes out over the transport.
type Bus struct {
	store     Store
	transport realtime.Transport
	exporter  Exporter
	pageSize  int
	maxPage   int
	newID     func() string
	now       func() time.Time

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewBus wires a bus. exporter may be nil. A non-positive pageSize uses the
// default of 20.
func NewBus(store Store, transport realtime.Transport, exporter Exporter, pageSize int, now func() time.Time) *Bus {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if now == nil {
		now = time.Now
	}
	return &Bus{
		store:     store,
		transport: transport,
		exporter:  exporter,
		pageSize:  pageSize,
		maxPage:   max(pageSize, DefaultMaxPageSize),
		newID:     uuid.NewString,
		now:       now,
		subs:      make(map[string]*Subscription),
	}
}

// Log appends one item to the feed and broadcasts it. Failures are logged
// and reported in the outcome, never as an error, so the action that
// triggered the log is not undone by it.
func (b *Bus) Log(ctx context.Context, entry model.Entry) model.LogOutcome {
	if entry.AssessmentID == "" || entry.UserID == "" || !entry.Type.Valid() {
		err := apperror.Invalid(fmt.Sprintf("activity entry %q for assessment %q", entry.Type, entry.AssessmentID))
		logger.Sugar.Warnf("Dropping activity: %v", err)
		return model.LogOutcome{Err: err}
	}

	item := &model.FeedItem{
		ID:           b.newID(),
		AssessmentID: entry.AssessmentID,
		UserID:       entry.UserID,
		Type:         entry.Type,
		Data:         entry.Data,
		SectionID:    entry.SectionID,
		CriterionID:  entry.CriterionID,
		CreatedAt:    b.now().UTC(),
	}
	if err := b.store.Insert(ctx, item); err != nil {
		logger.Sugar.Warnf("Failed to log %s activity for %s on assessment %s: %v", entry.Type, entry.UserID, entry.AssessmentID, err)
		return model.LogOutcome{Err: err}
	}

	b.publish(ctx, Envelope{Kind: KindActivity, AssessmentID: item.AssessmentID, Activity: item})

	if b.exporter != nil {
		if err := b.exporter.Export(ctx, item); err != nil {
			logger.Sugar.Warnf("Failed to export activity %s: %v", item.ID, err)
		}
	}
	return model.LogOutcome{Item: item}
}

// SetMaxPageSize changes the cap applied by Recent. It never drops below
// the page size.
func (b *Bus) SetMaxPageSize(n int) {
	b.maxPage = max(n, b.pageSize)
}

// Recent returns the newest feed items. limit <= 0 uses the page size and
// anything above the cap is clamped to it.
func (b *Bus) Recent(ctx context.Context, assessmentID string, limit int) ([]model.FeedItem, error) {
	if limit <= 0 {
		limit = b.pageSize
	}
	limit = min(limit, b.maxPage)
	return b.store.Recent(ctx, assessmentID, limit)
}

// SessionsChanged broadcasts the refreshed live-session list.
func (b *Bus) SessionsChanged(ctx context.Context, assessmentID string, live []presencemodel.Session) {
	if live == nil {
		live = []presencemodel.Session{}
	}
	b.publish(ctx, Envelope{Kind: KindSessions, AssessmentID: assessmentID, Sessions: live})
}

func (b *Bus) publish(ctx context.Context, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Sugar.Errorf("Failed to encode %s envelope: %v", env.Kind, err)
		return
	}
	if err := b.transport.Publish(ctx, realtime.AssessmentChannel(env.AssessmentID), payload); err != nil {
		logger.Sugar.Warnf("Failed to publish %s on assessment %s: %v", env.Kind, env.AssessmentID, err)
	}
}

// Subscribe opens the change stream for one consumer of an assessment. An
// earlier subscription for the same pair is torn down first. Either callback
// may be nil.
func (b *Bus) Subscribe(ctx context.Context, assessmentID, consumerID string, onSessions SessionsFunc, onActivity ActivityFunc) (*Subscription, error) {
	key := "feed:" + assessmentID + ":" + consumerID
	b.replace(key)

	cancel, err := b.transport.Subscribe(ctx, realtime.AssessmentChannel(assessmentID), func(payload []byte) {
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Sugar.Warnf("Dropping malformed envelope on assessment %s: %v", assessmentID, err)
			return
		}
		switch env.Kind {
		case KindSessions:
			if onSessions != nil {
				onSessions(env.Sessions)
			}
		case KindActivity:
			if onActivity != nil && env.Activity != nil {
				onActivity(*env.Activity)
			}
		}
	})
	if err != nil {
		return nil, apperror.Transient("subscribe", err)
	}

	sub := &Subscription{ID: b.newID(), AssessmentID: assessmentID, ConsumerID: consumerID, key: key, cancel: cancel}
	b.hold(sub)
	return sub, nil
}

// SubscribePresence joins the ephemeral online set of an assessment and
// reports every change to it, starting with the caller's own arrival.
func (b *Bus) SubscribePresence(ctx context.Context, assessmentID, userID, displayName string, onChange PresenceFunc) (*Subscription, error) {
	// An earlier subscription for the same user is released by hold, after
	// the new one is tracked, so the user never drops out of the set.
	key := "presence:" + assessmentID + ":" + userID

	channel := realtime.PresenceChannel(assessmentID)
	cancelSub, err := b.transport.Subscribe(ctx, channel, func([]byte) {
		if onChange == nil {
			return
		}
		members, err := b.transport.Members(context.Background(), channel)
		if err != nil {
			logger.Sugar.Warnf("Failed to read presence set for assessment %s: %v", assessmentID, err)
			return
		}
		onChange(members)
	})
	if err != nil {
		return nil, apperror.Transient("subscribe presence", err)
	}

	member := realtime.Member{UserID: userID, DisplayName: displayName, OnlineAt: b.now().UTC()}
	if err := b.transport.Track(ctx, channel, member); err != nil {
		cancelSub()
		return nil, apperror.Transient("track presence", err)
	}

	sub := &Subscription{
		ID:           b.newID(),
		AssessmentID: assessmentID,
		ConsumerID:   userID,
		key:          key,
		channel:      channel,
		member:       member,
	}
	sub.cancel = func() {
		cancelSub()
		if b.heldByOther(key, sub) {
			return
		}
		if err := b.transport.Untrack(context.Background(), channel, userID); err != nil {
			logger.Sugar.Warnf("Failed to untrack %s on assessment %s: %v", userID, assessmentID, err)
		}
		b.announce(context.Background(), channel)
	}
	b.hold(sub)
	b.announce(ctx, channel)
	return sub, nil
}

// Touch re-tracks the holder of a presence subscription so transports that
// expire members keep it. Nothing is announced. Released or replaced
// subscriptions are ignored.
func (b *Bus) Touch(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.channel == "" || !b.Held(sub) {
		return nil
	}

	m := sub.member
	m.OnlineAt = b.now().UTC()
	if err := b.transport.Track(ctx, sub.channel, m); err != nil {
		return apperror.Transient("touch presence", err)
	}
	return nil
}

func (b *Bus) announce(ctx context.Context, channel string) {
	if err := b.transport.Publish(ctx, channel, []byte(`{"kind":"presence"}`)); err != nil {
		logger.Sugar.Warnf("Failed to announce presence change on %s: %v", channel, err)
	}
}

// Unsubscribe releases sub. It is safe to call more than once and after the
// subscription was replaced.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if b.subs[sub.key] == sub {
		delete(b.subs, sub.key)
	}
	b.mu.Unlock()
	sub.release()
}

// Cleanup releases every subscription still held by the bus.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.release()
	}
	logger.Sugar.Infof("Released %d realtime subscriptions", len(subs))
}

// Held reports whether sub is still the live subscription for its key.
func (b *Bus) Held(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[sub.key] == sub
}

// Open reports how many subscriptions the bus is holding.
func (b *Bus) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) heldByOther(key string, sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	held, ok := b.subs[key]
	return ok && held != sub
}

func (b *Bus) replace(key string) {
	b.mu.Lock()
	prev := b.subs[key]
	delete(b.subs, key)
	b.mu.Unlock()
	if prev != nil {
		prev.release()
	}
}

func (b *Bus) hold(sub *Subscription) {
	b.mu.Lock()
	prev := b.subs[sub.key]
	b.subs[sub.key] = sub
	b.mu.Unlock()
	if prev != nil && prev != sub {
		prev.release()
	}
}

func (s *Subscription) release() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
