package model

import "time"

type Status string

const (
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusDisconnected Status = "disconnected"
)

// DefaultStaleAfter is how long a silent active session still counts as live.
const DefaultStaleAfter = 5 * time.Minute

// Session is the presence row of one user on one assessment.
type Session struct {
	ID               string     `json:"id"`
	AssessmentID     string     `json:"assessment_id"`
	UserID           string     `json:"user_id"`
	CurrentSectionID *string    `json:"current_section_id,omitempty"`
	Status           Status     `json:"status"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	SessionStart     time.Time  `json:"session_start"`
	SessionEnd       *time.Time `json:"session_end,omitempty"`
}

// Live reports whether the session is active and was heard from within
// window of now.
func (s *Session) Live(now time.Time, window time.Duration) bool {
	return s.Status == StatusActive && now.Sub(s.LastActivityAt) < window
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	out := *s
	if s.CurrentSectionID != nil {
		section := *s.CurrentSectionID
		out.CurrentSectionID = &section
	}
	if s.SessionEnd != nil {
		end := *s.SessionEnd
		out.SessionEnd = &end
	}
	return &out
}

type HeartbeatRequest struct {
	AssessmentID string  `json:"assessment_id"`
	SectionID    *string `json:"section_id,omitempty"`
}
