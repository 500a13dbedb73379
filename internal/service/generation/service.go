package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
)

// Options tunes how backends are invoked.
type Options struct {
	// Timeout bounds a single generation, including the wait for a slot.
	// Zero disables the bound.
	Timeout time.Duration
	// Concurrency is the number of calls a backend admits at once.
	Concurrency int
	Params      Params
	Logger      *zap.Logger
}

// Service dispatches queries to the backend registered for their mode.
type Service struct {
	backends map[query.Mode]*guarded
	params   Params
	timeout  time.Duration
	logger   *zap.Logger
}

// guarded serialises access to one backend's device.
type guarded struct {
	backend Backend
	slots   chan struct{}
}

// NewService wires backends by mode. Params default to DefaultParams when zero.
func NewService(backends map[query.Mode]Backend, opts Options) *Service {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	params := opts.Params
	if params == (Params{}) {
		params = DefaultParams()
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	wrapped := make(map[query.Mode]*guarded, len(backends))
	for mode, backend := range backends {
		wrapped[mode] = &guarded{backend: backend, slots: make(chan struct{}, concurrency)}
	}

	return &Service{
		backends: wrapped,
		params:   params,
		timeout:  opts.Timeout,
		logger:   logger.Named("generation"),
	}
}

// Generate rewrites raw with the backend for mode. Failures of any kind are
// returned inside the result, never raised.
func (s *Service) Generate(ctx context.Context, raw string, mode query.Mode) query.Result {
	result := query.Result{Mode: mode}

	g, ok := s.backends[mode]
	if !ok {
		result.Err = fmt.Errorf("%w %q", ErrBackendNotFound, mode)
		return result
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	prompt := query.Request{Query: raw, Mode: mode}.Prompt()
	s.logger.Debug("starting generation",
		zap.String("mode", string(mode)),
		zap.String("backend", g.backend.Name()))

	text, err := g.run(ctx, prompt, s.params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && s.timeout > 0 {
			err = fmt.Errorf("generation timed out after %s: %w", s.timeout, err)
		}
		s.logger.Warn("generation failed",
			zap.String("mode", string(mode)),
			zap.String("backend", g.backend.Name()),
			zap.Error(err))
		result.Err = err
		return result
	}

	result.Text = text
	return result
}

// Rewrite is Generate rendered as the text the user sees.
func (s *Service) Rewrite(ctx context.Context, raw string, mode query.Mode) string {
	return s.Generate(ctx, raw, mode).Display()
}

// Verify probes every backend that can report where it runs and fails when
// one is not on the configured device or serves another checkpoint than the
// one it was configured with.
func (s *Service) Verify(ctx context.Context, device string) error {
	for mode, g := range s.backends {
		prober, ok := g.backend.(Prober)
		if !ok {
			continue
		}
		info, err := prober.Info(ctx)
		if err != nil {
			return fmt.Errorf("probing %s backend %s: %w", mode, g.backend.Name(), err)
		}
		if pinned, ok := g.backend.(Pinned); ok && pinned.Model() != "" {
			if err := CheckModel(pinned.Model(), info.ModelID); err != nil {
				return fmt.Errorf("%s backend %s: %w", mode, g.backend.Name(), err)
			}
		}
		if err := CheckDevice(device, info.Device); err != nil {
			return fmt.Errorf("%s backend %s: %w", mode, g.backend.Name(), err)
		}
		s.logger.Info("backend ready",
			zap.String("mode", string(mode)),
			zap.String("model", info.ModelID),
			zap.String("device", info.Device))
	}
	return nil
}

// Close releases every backend.
func (s *Service) Close() error {
	var errs []error
	for _, g := range s.backends {
		if err := g.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", g.backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (g *guarded) run(ctx context.Context, prompt string, params Params) (text string, err error) {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-g.slots }()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBackendPanic, r)
		}
	}()

	return g.backend.Generate(ctx, prompt, params)
}
