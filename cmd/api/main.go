package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zhouzirui/query-preprocess/backend/internal/config"
	"github.com/zhouzirui/query-preprocess/backend/internal/handler"
	"github.com/zhouzirui/query-preprocess/backend/internal/logging"
	"github.com/zhouzirui/query-preprocess/backend/internal/metrics"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/audit"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/generation"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/provision"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/rewrite"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger := logging.New(logging.Config{FilePath: cfg.Log.AuditPath, Prod: cfg.Log.Prod})
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(envErr))
	}

	if cfg.Generation.Backend == config.BackendSeq2Seq && cfg.Models.ProvisionEnabled {
		p := provision.New(provision.Config{
			BasePath:  cfg.Models.BasePath,
			RepoURL:   cfg.Models.RepoURL,
			ModelDirs: []string{cfg.Models.KeywordsDir, cfg.Models.SubqueriesDir},
		}, provision.WithLogger(logger))
		if err := p.Ensure(ctx); err != nil {
			logger.Fatal("failed to provision models", zap.Error(err))
		}
	}

	backends, err := buildBackends(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize generation backends", zap.Error(err))
	}

	genSvc := generation.NewService(backends, generation.Options{
		Timeout:     cfg.Generation.Timeout,
		Concurrency: cfg.Generation.Concurrency,
		Logger:      logger,
	})
	defer func() { _ = genSvc.Close() }()

	if cfg.Generation.Backend == config.BackendSeq2Seq {
		verifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := genSvc.Verify(verifyCtx, cfg.Generation.Device)
		cancel()
		if err != nil {
			logger.Fatal("generation backends not ready", zap.String("device", cfg.Generation.Device), zap.Error(err))
		}
	}
	logger.Info("generation service initialized",
		zap.String("backend", cfg.Generation.Backend),
		zap.Duration("timeout", cfg.Generation.Timeout),
		zap.Int("concurrency", cfg.Generation.Concurrency),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rewriteSvc := rewrite.NewService(
		genSvc,
		session.NewService(cfg.Session.TTL),
		audit.New(logger),
		metrics.New(registry),
		logger,
	)

	router := handler.NewRouter(rewriteSvc, registry, logger)

	startServer(ctx, cfg.Server, router, logger)
}

// buildBackends 按配置为每种模式创建生成后端。
func buildBackends(ctx context.Context, cfg *config.Config) (map[query.Mode]generation.Backend, error) {
	if cfg.Generation.Backend == config.BackendArk {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			return nil, err
		}
		// One chat model serves both modes; only the prompt differs.
		chat, err := generation.NewChatBackend(ctx, cfg.AI.Model, chatModel)
		if err != nil {
			return nil, err
		}
		return map[query.Mode]generation.Backend{
			query.ModeKeywords:   chat,
			query.ModeSubqueries: chat,
		}, nil
	}

	client := &http.Client{Timeout: cfg.Generation.Timeout}
	return map[query.Mode]generation.Backend{
		query.ModeKeywords: generation.NewSeq2SeqBackend(
			cfg.Models.KeywordsDir, cfg.Models.KeywordsPath(), cfg.Models.KeywordsURL, client),
		query.ModeSubqueries: generation.NewSeq2SeqBackend(
			cfg.Models.SubqueriesDir, cfg.Models.SubqueriesPath(), cfg.Models.SubqueriesURL, client),
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("query preprocess backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
