package service

import (
	"context"
	"time"

	activitymodel "evalcollab/internal/activity/model"
	"evalcollab/internal/presence/model"
	"evalcollab/pkg/logger"

	"github.com/google/uuid"
)

// Store persists sessions. Join and Heartbeat are upserts keyed by
// (assessment_id, user_id) so racing calls never create a second row.
type Store interface {
	// Join resets the row to a fresh active session.
	Join(ctx context.Context, s *model.Session) (*model.Session, error)
	// Heartbeat marks the row active and refreshes its activity time,
	// keeping the original session start. A nil section keeps the current one.
	Heartbeat(ctx context.Context, s *model.Session) (*model.Session, error)
	Disconnect(ctx context.Context, assessmentID, userID string, at time.Time) (*model.Session, error)
	// ListActiveSince returns active rows heard from after cutoff, most
	// recent first.
	ListActiveSince(ctx context.Context, assessmentID string, cutoff time.Time) ([]model.Session, error)
}

// ActivityLogger records joined/left events. It must not fail the caller.
type ActivityLogger interface {
	Log(ctx context.Context, entry activitymodel.Entry) activitymodel.LogOutcome
}

// ChangeNotifier receives the refreshed live list after any session change.
type ChangeNotifier interface {
	SessionsChanged(ctx context.Context, assessmentID string, live []model.Session)
}

// Tracker keeps "who is here right now" state. It trusts callers to have
// checked membership when the session started.
type Tracker struct {
	Store      Store
	activity   ActivityLogger
	notifier   ChangeNotifier
	staleAfter time.Duration
	newID      func() string
	now        func() time.Time
}

// NewTracker builds a tracker. activity and notifier may be nil. A
// non-positive staleAfter uses the five minute default.
func NewTracker(store Store, activity ActivityLogger, notifier ChangeNotifier, staleAfter time.Duration, now func() time.Time) *Tracker {
	if staleAfter <= 0 {
		staleAfter = model.DefaultStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		Store:      store,
		activity:   activity,
		notifier:   notifier,
		staleAfter: staleAfter,
		newID:      uuid.NewString,
		now:        now,
	}
}

// StaleAfter reports the freshness window used by ListLive.
func (t *Tracker) StaleAfter() time.Duration { return t.staleAfter }

// Join starts or restarts the user's session and logs a joined event.
func (t *Tracker) Join(ctx context.Context, assessmentID, userID string, sectionID *string) (*model.Session, error) {
	now := t.now().UTC()
	session, err := t.Store.Join(ctx, &model.Session{
		ID:               t.newID(),
		AssessmentID:     assessmentID,
		UserID:           userID,
		CurrentSectionID: sectionID,
		Status:           model.StatusActive,
		LastActivityAt:   now,
		SessionStart:     now,
	})
	if err != nil {
		return nil, err
	}

	t.logActivity(ctx, assessmentID, userID, activitymodel.TypeJoined, sectionID)
	t.Refresh(ctx, assessmentID)
	return session, nil
}

// Leave marks the session disconnected and logs a left event.
func (t *Tracker) Leave(ctx context.Context, assessmentID, userID string) error {
	if _, err := t.Store.Disconnect(ctx, assessmentID, userID, t.now().UTC()); err != nil {
		return err
	}

	t.logActivity(ctx, assessmentID, userID, activitymodel.TypeLeft, nil)
	t.Refresh(ctx, assessmentID)
	return nil
}

// Heartbeat keeps the session live. It never writes to the activity feed.
func (t *Tracker) Heartbeat(ctx context.Context, assessmentID, userID string, sectionID *string) error {
	now := t.now().UTC()
	_, err := t.Store.Heartbeat(ctx, &model.Session{
		ID:               t.newID(),
		AssessmentID:     assessmentID,
		UserID:           userID,
		CurrentSectionID: sectionID,
		Status:           model.StatusActive,
		LastActivityAt:   now,
		SessionStart:     now,
	})
	if err != nil {
		return err
	}

	t.Refresh(ctx, assessmentID)
	return nil
}

// ListLive returns active sessions heard from within the staleness window,
// most recent first. This is the only place staleness is evaluated.
func (t *Tracker) ListLive(ctx context.Context, assessmentID string) ([]model.Session, error) {
	now := t.now().UTC()
	sessions, err := t.Store.ListActiveSince(ctx, assessmentID, now.Add(-t.staleAfter))
	if err != nil {
		return nil, err
	}

	live := make([]model.Session, 0, len(sessions))
	for i := range sessions {
		if sessions[i].Live(now, t.staleAfter) {
			live = append(live, sessions[i])
		}
	}
	return live, nil
}

// Refresh pushes the current live list to the notifier. Failures are logged.
func (t *Tracker) Refresh(ctx context.Context, assessmentID string) {
	if t.notifier == nil {
		return
	}
	live, err := t.ListLive(ctx, assessmentID)
	if err != nil {
		logger.Sugar.Warnf("Failed to refresh live sessions for assessment %s: %v", assessmentID, err)
		return
	}
	t.notifier.SessionsChanged(ctx, assessmentID, live)
}

func (t *Tracker) logActivity(ctx context.Context, assessmentID, userID string, kind activitymodel.Type, sectionID *string) {
	if t.activity == nil {
		return
	}
	t.activity.Log(ctx, activitymodel.Entry{
		AssessmentID: assessmentID,
		UserID:       userID,
		Type:         kind,
		SectionID:    sectionID,
	})
}
