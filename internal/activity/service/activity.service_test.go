package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"evalcollab/internal/activity/model"
	"evalcollab/internal/activity/repository"
	presencemodel "evalcollab/internal/presence/model"
	"evalcollab/internal/realtime"
	"evalcollab/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Insert(context.Context, *model.FeedItem) error {
	return apperror.Transient("insert activity", errors.New("connection reset"))
}

func (failingStore) Recent(context.Context, string, int) ([]model.FeedItem, error) {
	return nil, apperror.Transient("recent activity", errors.New("connection reset"))
}

type recordingExporter struct {
	items []model.FeedItem
	err   error
}

func (r *recordingExporter) Export(_ context.Context, item *model.FeedItem) error {
	r.items = append(r.items, *item)
	return r.err
}

func newBus(t *testing.T) (*Bus, *realtime.Memory, *recordingExporter) {
	t.Helper()
	transport := realtime.NewMemory()
	exp := &recordingExporter{}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	bus := NewBus(repository.NewMemory(), transport, exp, 0, func() time.Time {
		tick++
		return start.Add(time.Duration(tick) * time.Second)
	})
	n := 0
	bus.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return bus, transport, exp
}

func TestLogStoresBroadcastsAndExports(t *testing.T) {
	bus, _, exp := newBus(t)
	ctx := context.Background()

	var received []model.FeedItem
	_, err := bus.Subscribe(ctx, "a1", "viewer", nil, func(item model.FeedItem) { received = append(received, item) })
	require.NoError(t, err)

	section := "s1"
	outcome := bus.Log(ctx, model.Entry{
		AssessmentID: "a1", UserID: "bob", Type: model.TypeEvaluationSubmitted,
		Data: json.RawMessage(`{"score":4}`), SectionID: &section,
	})
	require.False(t, outcome.Failed())
	require.NotNil(t, outcome.Item)

	require.Len(t, received, 1)
	assert.Equal(t, outcome.Item.ID, received[0].ID)
	assert.JSONEq(t, `{"score":4}`, string(received[0].Data))
	require.Len(t, exp.items, 1)
	assert.Equal(t, model.TypeEvaluationSubmitted, exp.items[0].Type)
}

func TestLogFailureIsSwallowed(t *testing.T) {
	transport := realtime.NewMemory()
	exp := &recordingExporter{}
	bus := NewBus(failingStore{}, transport, exp, 0, nil)

	var received int
	_, err := bus.Subscribe(context.Background(), "a1", "viewer", nil, func(model.FeedItem) { received++ })
	require.NoError(t, err)

	outcome := bus.Log(context.Background(), model.Entry{AssessmentID: "a1", UserID: "bob", Type: model.TypeCommentAdded})
	assert.True(t, outcome.Failed())
	assert.ErrorIs(t, outcome.Err, apperror.ErrTransient)
	assert.Nil(t, outcome.Item)
	assert.Zero(t, received)
	assert.Empty(t, exp.items)
}

func TestLogExportFailureKeepsItem(t *testing.T) {
	bus, _, exp := newBus(t)
	exp.err = errors.New("broker down")

	outcome := bus.Log(context.Background(), model.Entry{AssessmentID: "a1", UserID: "bob", Type: model.TypeSectionStarted})
	assert.False(t, outcome.Failed())

	items, err := bus.Recent(context.Background(), "a1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestLogRejectsUnknownType(t *testing.T) {
	bus, _, _ := newBus(t)

	outcome := bus.Log(context.Background(), model.Entry{AssessmentID: "a1", UserID: "bob", Type: "scored"})
	assert.ErrorIs(t, outcome.Err, apperror.ErrInvalidInput)
}

func TestRecentNewestFirstWithDefaultPage(t *testing.T) {
	bus, _, _ := newBus(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		outcome := bus.Log(ctx, model.Entry{AssessmentID: "a1", UserID: "bob", Type: model.TypeCommentAdded})
		require.False(t, outcome.Failed())
	}

	items, err := bus.Recent(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, items, DefaultPageSize)
	assert.Equal(t, "id-25", items[0].ID)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	items, err = bus.Recent(ctx, "a1", 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

type limitRecorder struct {
	failingStore
	limits []int
}

func (l *limitRecorder) Recent(_ context.Context, _ string, limit int) ([]model.FeedItem, error) {
	l.limits = append(l.limits, limit)
	return []model.FeedItem{}, nil
}

func TestRecentClampsLimit(t *testing.T) {
	store := &limitRecorder{}
	bus := NewBus(store, realtime.NewMemory(), nil, 0, nil)
	ctx := context.Background()

	for _, limit := range []int{0, 5, 1 << 50} {
		_, err := bus.Recent(ctx, "a1", limit)
		require.NoError(t, err)
	}
	bus.SetMaxPageSize(500)
	_, err := bus.Recent(ctx, "a1", 1<<30)
	require.NoError(t, err)
	bus.SetMaxPageSize(1)
	_, err = bus.Recent(ctx, "a1", 1<<30)
	require.NoError(t, err)

	assert.Equal(t, []int{DefaultPageSize, 5, DefaultMaxPageSize, 500, DefaultPageSize}, store.limits)
}

func TestSessionsChangedReachesSubscribers(t *testing.T) {
	bus, transport, _ := newBus(t)
	ctx := context.Background()

	var got [][]presencemodel.Session
	_, err := bus.Subscribe(ctx, "a1", "viewer", func(s []presencemodel.Session) { got = append(got, s) }, nil)
	require.NoError(t, err)
	var raw []string
	_, err = transport.Subscribe(ctx, realtime.AssessmentChannel("a1"), func(p []byte) { raw = append(raw, string(p)) })
	require.NoError(t, err)

	bus.SessionsChanged(ctx, "a1", []presencemodel.Session{{UserID: "bob", Status: presencemodel.StatusActive}})
	bus.SessionsChanged(ctx, "a1", nil)
	bus.SessionsChanged(ctx, "a2", []presencemodel.Session{{UserID: "carol"}})

	require.Len(t, got, 2)
	assert.Equal(t, "bob", got[0][0].UserID)
	assert.NotNil(t, got[1])
	assert.Empty(t, got[1])
	require.Len(t, raw, 2)
	assert.Contains(t, raw[1], `"sessions":[]`)
}

func TestSecondSubscribeReplacesFirst(t *testing.T) {
	bus, transport, _ := newBus(t)
	ctx := context.Background()

	var first, second int
	sub1, err := bus.Subscribe(ctx, "a1", "viewer", nil, func(model.FeedItem) { first++ })
	require.NoError(t, err)
	sub2, err := bus.Subscribe(ctx, "a1", "viewer", nil, func(model.FeedItem) { second++ })
	require.NoError(t, err)
	assert.NotEqual(t, sub1.ID, sub2.ID)

	bus.Log(ctx, model.Entry{AssessmentID: "a1", UserID: "bob", Type: model.TypeCommentAdded})

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, transport.Subscribers(realtime.AssessmentChannel("a1")))
	assert.Equal(t, 1, bus.Open())

	bus.Unsubscribe(sub1)
	assert.Equal(t, 1, bus.Open())
	bus.Unsubscribe(sub2)
	bus.Unsubscribe(sub2)
	assert.Equal(t, 0, bus.Open())
	assert.Equal(t, 0, transport.Subscribers(realtime.AssessmentChannel("a1")))
}

func TestDistinctConsumersBothReceive(t *testing.T) {
	bus, _, _ := newBus(t)
	ctx := context.Background()

	var a, b int
	_, err := bus.Subscribe(ctx, "a1", "tab-1", nil, func(model.FeedItem) { a++ })
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "a1", "tab-2", nil, func(model.FeedItem) { b++ })
	require.NoError(t, err)

	bus.Log(ctx, model.Entry{AssessmentID: "a1", UserID: "bob", Type: model.TypeCommentAdded})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestSubscribePresenceAnnouncesSelf(t *testing.T) {
	bus, transport, _ := newBus(t)
	ctx := context.Background()

	var bobView, carolView [][]realtime.Member
	bobSub, err := bus.SubscribePresence(ctx, "a1", "bob", "Bob", func(m []realtime.Member) { bobView = append(bobView, m) })
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	require.Len(t, bobView[0], 1)
	assert.Equal(t, "Bob", bobView[0][0].DisplayName)

	_, err = bus.SubscribePresence(ctx, "a1", "carol", "Carol", func(m []realtime.Member) { carolView = append(carolView, m) })
	require.NoError(t, err)
	require.Len(t, bobView, 2)
	assert.Len(t, bobView[1], 2)
	require.Len(t, carolView, 1)

	bus.Unsubscribe(bobSub)
	require.Len(t, carolView, 2)
	assert.Equal(t, []string{"carol"}, memberIDs(carolView[1]))

	members, err := transport.Members(ctx, realtime.PresenceChannel("a1"))
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestReplacedPresenceKeepsUserTracked(t *testing.T) {
	bus, transport, _ := newBus(t)
	ctx := context.Background()

	var carolView [][]string
	_, err := bus.SubscribePresence(ctx, "a1", "carol", "Carol", func(m []realtime.Member) {
		carolView = append(carolView, memberIDs(m))
	})
	require.NoError(t, err)

	first, err := bus.SubscribePresence(ctx, "a1", "bob", "Bob", nil)
	require.NoError(t, err)
	_, err = bus.SubscribePresence(ctx, "a1", "bob", "Bob", nil)
	require.NoError(t, err)

	// Carol never sees bob drop out while he resubscribes.
	assert.Equal(t, [][]string{{"carol"}, {"bob", "carol"}, {"bob", "carol"}}, carolView)
	assert.Equal(t, 2, bus.Open())

	bus.Unsubscribe(first)

	members, err := transport.Members(ctx, realtime.PresenceChannel("a1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, memberIDs(members))
}

func TestTouchRefreshesHeldPresenceOnly(t *testing.T) {
	bus, transport, _ := newBus(t)
	ctx := context.Background()
	channel := realtime.PresenceChannel("a1")

	first, err := bus.SubscribePresence(ctx, "a1", "bob", "Bob", nil)
	require.NoError(t, err)
	before, err := transport.Members(ctx, channel)
	require.NoError(t, err)

	require.NoError(t, bus.Touch(ctx, first))
	after, err := transport.Members(ctx, channel)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.True(t, after[0].OnlineAt.After(before[0].OnlineAt))
	assert.Equal(t, "Bob", after[0].DisplayName)

	bus.Unsubscribe(first)
	require.NoError(t, bus.Touch(ctx, first))
	members, err := transport.Members(ctx, channel)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestCleanupReleasesEverything(t *testing.T) {
	bus, transport, _ := newBus(t)
	ctx := context.Background()

	_, err := bus.Subscribe(ctx, "a1", "viewer", nil, nil)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "a2", "viewer", nil, nil)
	require.NoError(t, err)
	_, err = bus.SubscribePresence(ctx, "a1", "bob", "Bob", nil)
	require.NoError(t, err)
	require.Equal(t, 3, bus.Open())

	bus.Cleanup()

	assert.Equal(t, 0, bus.Open())
	assert.Equal(t, 0, transport.Subscribers(realtime.AssessmentChannel("a1")))
	assert.Equal(t, 0, transport.Subscribers(realtime.AssessmentChannel("a2")))
	assert.Equal(t, 0, transport.Subscribers(realtime.PresenceChannel("a1")))
	members, err := transport.Members(ctx, realtime.PresenceChannel("a1"))
	require.NoError(t, err)
	assert.Empty(t, members)
}

func memberIDs(members []realtime.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.UserID)
	}
	return out
}
