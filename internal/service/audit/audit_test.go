package audit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
)

func TestAppendQueryAndResponse(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := New(zap.New(core))

	log.Append(Entry{Kind: KindQuery, UserID: "u1", Mode: query.ModeKeywords, Payload: "What is the capital of France?"})
	log.Append(Entry{Kind: KindResponse, UserID: "u1", Mode: query.ModeKeywords, Payload: "capital France"})

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "User (u1) query (Extract keywords): What is the capital of France?", entries[0].Message)
	assert.Equal(t, "Response (Extract keywords) to u1: capital France", entries[1].Message)

	fields := entries[1].ContextMap()
	assert.Equal(t, "response", fields["event"])
	assert.Equal(t, "u1", fields["user_id"])
	assert.Equal(t, "keywords", fields["mode"])
	assert.Equal(t, "capital France", fields["payload"])
}

func TestAppendErrorUsesErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := New(zap.New(core))

	log.Append(Entry{Kind: KindError, UserID: "u1", Mode: query.ModeSubqueries, Payload: "device lost"})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Error (Generate sub-queries): device lost", entries[0].Message)
}

func TestFeedbackKind(t *testing.T) {
	assert.Equal(t, KindSatisfied, FeedbackKind(session.Satisfied))
	assert.Equal(t, KindUnsatisfied, FeedbackKind(session.Unsatisfied))
	assert.Equal(t, "User satisfaction (满意) for user (u1)", Message(Entry{Kind: KindSatisfied, UserID: "u1"}))
	assert.Equal(t, "User satisfaction (不满意) for user (u1)", Message(Entry{Kind: KindUnsatisfied, UserID: "u1"}))
}

func TestAppendConcurrentWritersLoseNothing(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := New(zap.New(core))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append(Entry{Kind: KindSatisfied, UserID: "u"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, logs.Len())
}

func TestNilLoggerDiscards(t *testing.T) {
	New(nil).Append(Entry{Kind: KindQuery, UserID: "u1"})
}
