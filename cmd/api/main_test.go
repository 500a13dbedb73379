package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/query-preprocess/backend/internal/config"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/generation"
)

func TestBuildBackendsSeq2Seq(t *testing.T) {
	cfg := &config.Config{
		Models: config.ModelsConfig{
			BasePath:      "./model",
			KeywordsDir:   "T5-small",
			SubqueriesDir: "flan-T5-base",
			KeywordsURL:   "http://127.0.0.1:8501",
			SubqueriesURL: "http://127.0.0.1:8502",
		},
		Generation: config.GenerationConfig{Backend: config.BackendSeq2Seq, Timeout: time.Second},
	}

	backends, err := buildBackends(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, backends, 2)
	assert.Equal(t, "T5-small", backends[query.ModeKeywords].Name())
	assert.Equal(t, "flan-T5-base", backends[query.ModeSubqueries].Name())

	keywords, ok := backends[query.ModeKeywords].(generation.Pinned)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("model", "T5-small"), keywords.Model())
	subqueries, ok := backends[query.ModeSubqueries].(generation.Pinned)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("model", "flan-T5-base"), subqueries.Model())
}

func TestBuildBackendsArkRequiresCredentials(t *testing.T) {
	cfg := &config.Config{Generation: config.GenerationConfig{Backend: config.BackendArk}}

	_, err := buildBackends(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
