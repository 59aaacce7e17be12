// Package realtime carries channel fan-out and the ephemeral "who is online"
// set between processes.
package realtime

import (
	"context"
	"time"
)

// Handler receives the raw payload of one published message.
type Handler func(payload []byte)

// Member is one entry of an ephemeral presence set. OnlineAt is when the
// member was last tracked.
type Member struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	OnlineAt    time.Time `json:"online_at"`
}

type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers every later message on channel to fn until the
	// returned cancel func is called. cancel is safe to call twice.
	Subscribe(ctx context.Context, channel string, fn Handler) (cancel func(), err error)
	Track(ctx context.Context, channel string, m Member) error
	Untrack(ctx context.Context, channel, userID string) error
	// Members lists the presence set ordered by user id.
	Members(ctx context.Context, channel string) ([]Member, error)
}

// AssessmentChannel is the channel carrying changes for one assessment.
func AssessmentChannel(assessmentID string) string {
	return "assessment:" + assessmentID
}

// PresenceChannel is the channel for the ephemeral presence set.
func PresenceChannel(assessmentID string) string {
	return "assessment:" + assessmentID + ":presence"
}
