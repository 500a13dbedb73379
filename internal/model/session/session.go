package session

import (
	"errors"
	"strings"
	"time"
)

// ErrUnknownVerdict is returned for feedback values other than satisfied/unsatisfied.
var ErrUnknownVerdict = errors.New("unknown verdict")

// Session captures the anonymous per-user state of the form.
type Session struct {
	UserID           string    `json:"userId"`
	LastResult       *string   `json:"lastResult,omitempty"`
	FeedbackRecorded bool      `json:"feedbackRecorded"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// New starts an empty session for the given identifier.
func New(userID string, now time.Time) *Session {
	return &Session{UserID: userID, CreatedAt: now, UpdatedAt: now}
}

// RecordResult replaces the live result and re-arms feedback, even when the
// text did not change.
func (s *Session) RecordResult(text string, now time.Time) {
	s.LastResult = &text
	s.FeedbackRecorded = false
	s.UpdatedAt = now
}

// RecordFeedback marks the live result as rated. It reports false when there
// is no live result or feedback was already recorded.
func (s *Session) RecordFeedback(now time.Time) bool {
	if !s.FeedbackPending() {
		return false
	}
	s.FeedbackRecorded = true
	s.UpdatedAt = now
	return true
}

// FeedbackPending reports whether the feedback controls should be shown.
func (s *Session) FeedbackPending() bool {
	return s.LastResult != nil && !s.FeedbackRecorded
}

// Result returns the live result text, or "" when there is none.
func (s *Session) Result() string {
	if s.LastResult == nil {
		return ""
	}
	return *s.LastResult
}

// Clone returns a copy that does not share the result pointer.
func (s *Session) Clone() Session {
	out := *s
	if s.LastResult != nil {
		text := *s.LastResult
		out.LastResult = &text
	}
	return out
}

// Verdict is the thumbs-up/thumbs-down signal.
type Verdict string

const (
	Satisfied   Verdict = "satisfied"
	Unsatisfied Verdict = "unsatisfied"
)

// ParseVerdict accepts the English names and the original button captions.
func ParseVerdict(raw string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "satisfied", "up", "满意":
		return Satisfied, nil
	case "unsatisfied", "down", "不满意":
		return Unsatisfied, nil
	default:
		return "", ErrUnknownVerdict
	}
}
