package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/query-preprocess/backend/internal/metrics"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/audit"
)

// Messages shown to the user.
const (
	ValidationMessage = "Please enter a query to send."
	ThankYouMessage   = "Thank you for your feedback!"
)

var (
	ErrEmptyQuery       = errors.New("query is empty")
	ErrNoResult         = errors.New("no result to rate")
	ErrFeedbackRecorded = errors.New("feedback already recorded")
	ErrGuardPanic       = errors.New("query handling panicked")
)

// Generator produces a structured result for a query.
type Generator interface {
	Generate(ctx context.Context, raw string, mode query.Mode) query.Result
}

// Sessions is the per-user state the core reads and updates.
type Sessions interface {
	EnsureUserID(ctx context.Context, userID string) (session.Session, bool)
	Get(ctx context.Context, userID string) (session.Session, error)
	RecordResult(ctx context.Context, userID, text string) (session.Session, error)
	RecordFeedback(ctx context.Context, userID string) (session.Session, bool, error)
}

// Outcome is what the surface renders after an action.
type Outcome struct {
	UserID       string     `json:"userId"`
	Query        string     `json:"query,omitempty"`
	Mode         query.Mode `json:"mode,omitempty"`
	Result       string     `json:"result,omitempty"`
	Failed       bool       `json:"failed,omitempty"`
	Notice       string     `json:"notice,omitempty"`
	ShowFeedback bool       `json:"showFeedback"`
	ThankYou     bool       `json:"thankYou"`
}

// View is the state of the page between actions.
type View struct {
	UserID       string `json:"userId"`
	LastResult   string `json:"lastResult,omitempty"`
	HasResult    bool   `json:"hasResult"`
	ShowFeedback bool   `json:"showFeedback"`
	ThankYou     bool   `json:"thankYou"`
}

// Service runs the flow from query to result to feedback.
type Service struct {
	generator Generator
	sessions  Sessions
	audit     audit.Sink
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService wires the flow. metrics and logger may be nil.
func NewService(generator Generator, sessions Sessions, sink audit.Sink, m *metrics.Metrics, logger *zap.Logger) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		generator: generator,
		sessions:  sessions,
		audit:     sink,
		metrics:   m,
		logger:    logger.Named("rewrite"),
	}
}

// Ensure resolves userID to a live session, creating one when needed.
func (s *Service) Ensure(ctx context.Context, userID string) session.Session {
	sess, created := s.sessions.EnsureUserID(ctx, userID)
	if created {
		s.metrics.SessionCreated()
		s.logger.Debug("session created", zap.String("user_id", sess.UserID))
	}
	return sess
}

// Submit validates raw, generates with mode and records the result. Blank
// input returns ErrEmptyQuery without touching the generator. Generation
// failures are not errors: they come back as Outcome.Failed.
func (s *Service) Submit(ctx context.Context, userID, raw string, mode query.Mode) (Outcome, error) {
	if strings.TrimSpace(raw) == "" {
		s.metrics.RejectValidation()
		return Outcome{UserID: userID, Mode: mode, Notice: ValidationMessage}, ErrEmptyQuery
	}

	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}

	s.audit.Append(audit.Entry{Kind: audit.KindQuery, UserID: userID, Mode: mode, Payload: raw})

	start := time.Now()
	res := s.guard(ctx, raw, mode)

	out := Outcome{UserID: userID, Query: raw, Mode: mode, Result: res.Display()}

	if !res.OK() {
		s.metrics.ObserveGeneration(string(mode), metrics.OutcomeError, time.Since(start))
		s.audit.Append(audit.Entry{Kind: audit.KindError, UserID: userID, Mode: mode, Payload: res.Err.Error()})
		out.Failed = true
		out.Notice = "An error occurred: " + res.Err.Error()
		// the previous result, if any, stays live but is not on screen
		return out, nil
	}

	s.metrics.ObserveGeneration(string(mode), metrics.OutcomeSuccess, time.Since(start))

	sess, err = s.sessions.RecordResult(ctx, userID, res.Text)
	if err != nil {
		return Outcome{}, err
	}
	s.audit.Append(audit.Entry{Kind: audit.KindResponse, UserID: userID, Mode: mode, Payload: res.Text})

	out.ShowFeedback = sess.FeedbackPending()
	return out, nil
}

// Feedback records verdict for the live result, once.
func (s *Service) Feedback(ctx context.Context, userID string, verdict session.Verdict) (Outcome, error) {
	if verdict != session.Satisfied && verdict != session.Unsatisfied {
		return Outcome{}, session.ErrUnknownVerdict
	}

	sess, changed, err := s.sessions.RecordFeedback(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if !changed {
		if sess.LastResult == nil {
			return Outcome{UserID: userID}, ErrNoResult
		}
		return Outcome{UserID: userID, Result: sess.Result(), ThankYou: true}, ErrFeedbackRecorded
	}

	s.audit.Append(audit.Entry{Kind: audit.FeedbackKind(verdict), UserID: userID})
	s.metrics.RecordFeedback(string(verdict))

	return Outcome{
		UserID:   userID,
		Result:   sess.Result(),
		Notice:   ThankYouMessage,
		ThankYou: true,
	}, nil
}

// View returns the current page state for userID.
func (s *Service) View(ctx context.Context, userID string) (View, error) {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return View{
		UserID:       sess.UserID,
		LastResult:   sess.Result(),
		HasResult:    sess.LastResult != nil,
		ShowFeedback: sess.FeedbackPending(),
		ThankYou:     sess.LastResult != nil && sess.FeedbackRecorded,
	}, nil
}

// guard is the surface-level safety net around the generator.
func (s *Service) guard(ctx context.Context, raw string, mode query.Mode) (res query.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("generation guard recovered", zap.Any("panic", r), zap.String("mode", string(mode)))
			res = query.Result{Mode: mode, Err: fmt.Errorf("%w: %v", ErrGuardPanic, r)}
		}
	}()
	return s.generator.Generate(ctx, raw, mode)
}
