package service

import (
	"evalcollab/internal/activity/model"
	presencemodel "evalcollab/internal/presence/model"
)

type EnvelopeKind string

const (
	KindSessions EnvelopeKind = "sessions"
	KindActivity EnvelopeKind = "activity"
	KindPresence EnvelopeKind = "presence"
)

// Envelope is the JSON message carried on an assessment channel.
type Envelope struct {
	Kind         EnvelopeKind            `json:"kind"`
	AssessmentID string                  `json:"assessment_id"`
	Sessions     []presencemodel.Session `json:"sessions"`
	Activity     *model.FeedItem         `json:"activity,omitempty"`
}
