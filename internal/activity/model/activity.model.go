package model

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TypeJoined              Type = "joined"
	TypeLeft                Type = "left"
	TypeEvaluationSubmitted Type = "evaluation_submitted"
	TypeCommentAdded        Type = "comment_added"
	TypeSectionStarted      Type = "section_started"
	TypeSectionCompleted    Type = "section_completed"
)

func (t Type) Valid() bool {
	switch t {
	case TypeJoined, TypeLeft, TypeEvaluationSubmitted, TypeCommentAdded, TypeSectionStarted, TypeSectionCompleted:
		return true
	}
	return false
}

// Reserved types are written only by the presence tracker.
func (t Type) Reserved() bool {
	return t == TypeJoined || t == TypeLeft
}

// FeedItem is one immutable row of the activity feed.
type FeedItem struct {
	ID           string          `json:"id"`
	AssessmentID string          `json:"assessment_id"`
	UserID       string          `json:"user_id"`
	Type         Type            `json:"activity_type"`
	Data         json.RawMessage `json:"activity_data,omitempty"`
	SectionID    *string         `json:"section_id,omitempty"`
	CriterionID  *string         `json:"criterion_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Entry is what callers hand to the bus to be logged.
type Entry struct {
	AssessmentID string
	UserID       string
	Type         Type
	Data         json.RawMessage
	SectionID    *string
	CriterionID  *string
}

// LogOutcome is the result of a best-effort log. Item is set on success,
// Err on failure. Callers may inspect it but must not fail because of it.
type LogOutcome struct {
	Item *FeedItem
	Err  error
}

func (o LogOutcome) Failed() bool { return o.Err != nil }

type RecordRequest struct {
	AssessmentID string          `json:"assessment_id"`
	Type         Type            `json:"activity_type"`
	Data         json.RawMessage `json:"activity_data,omitempty"`
	SectionID    *string         `json:"section_id,omitempty"`
	CriterionID  *string         `json:"criterion_id,omitempty"`
}
