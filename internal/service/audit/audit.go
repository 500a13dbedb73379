package audit

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
)

// Kind names an audit event.
type Kind string

const (
	KindQuery       Kind = "query"
	KindResponse    Kind = "response"
	KindError       Kind = "error"
	KindSatisfied   Kind = "feedback_satisfied"
	KindUnsatisfied Kind = "feedback_unsatisfied"
)

// FeedbackKind maps a verdict to its audit event.
func FeedbackKind(v session.Verdict) Kind {
	if v == session.Satisfied {
		return KindSatisfied
	}
	return KindUnsatisfied
}

// Entry is one append-only audit record. The timestamp is taken by the sink.
type Entry struct {
	Kind    Kind
	UserID  string
	Mode    query.Mode
	Payload string
}

// Sink is the append-only audit log. Append never fails the caller.
type Sink interface {
	Append(entry Entry)
}

// Log writes audit entries through a zap logger.
type Log struct {
	logger *zap.Logger
}

// New wraps logger; a nil logger discards everything.
func New(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("audit")}
}

// Append records entry. Encoding or write problems are swallowed.
func (l *Log) Append(entry Entry) {
	defer func() {
		// zap reports sink errors on its error output; anything that still
		// panics here must not abort the request.
		_ = recover()
	}()

	fields := []zap.Field{
		zap.String("event", string(entry.Kind)),
		zap.String("user_id", entry.UserID),
	}
	if entry.Mode != "" {
		fields = append(fields, zap.String("mode", string(entry.Mode)))
	}
	fields = append(fields, zap.String("payload", entry.Payload))

	msg := Message(entry)
	if entry.Kind == KindError {
		l.logger.Error(msg, fields...)
		return
	}
	l.logger.Info(msg, fields...)
}

// Message renders the human readable line for entry.
func Message(entry Entry) string {
	switch entry.Kind {
	case KindQuery:
		return fmt.Sprintf("User (%s) query (%s): %s", entry.UserID, entry.Mode.Label(), entry.Payload)
	case KindResponse:
		return fmt.Sprintf("Response (%s) to %s: %s", entry.Mode.Label(), entry.UserID, entry.Payload)
	case KindError:
		return fmt.Sprintf("Error (%s): %s", entry.Mode.Label(), entry.Payload)
	case KindSatisfied:
		return fmt.Sprintf("User satisfaction (满意) for user (%s)", entry.UserID)
	case KindUnsatisfied:
		return fmt.Sprintf("User satisfaction (不满意) for user (%s)", entry.UserID)
	default:
		return fmt.Sprintf("%s for user (%s): %s", entry.Kind, entry.UserID, entry.Payload)
	}
}
