// Package provision makes sure the model checkpoints exist on local disk
// before the service starts. It is idempotent: an existing base path is
// only verified.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

var (
	ErrModelMissing = errors.New("model directory missing")
	ErrStepFailed   = errors.New("provisioning step failed")
)

// Config names the repository and the model directories inside it.
type Config struct {
	BasePath  string
	RepoURL   string
	ModelDirs []string
}

// Runner executes an external command in dir and returns its stdout.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args; stderr is folded into the returned error.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Provisioner clones the model repository and pulls its LFS weights.
type Provisioner struct {
	cfg      Config
	runner   Runner
	progress io.Writer
	logger   *zap.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(p *Provisioner) { p.runner = r }
}

// WithProgress sets where the progress bar is drawn. Defaults to stderr.
func WithProgress(w io.Writer) Option {
	return func(p *Provisioner) { p.progress = w }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provisioner) { p.logger = l }
}

// New creates a Provisioner.
func New(cfg Config, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:      cfg,
		runner:   ExecRunner{},
		progress: os.Stderr,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("provision")
	return p
}

type step struct {
	describe string
	dir      string
	name     string
	args     []string
}

func (s step) String() string {
	return strings.TrimSpace(s.name + " " + strings.Join(s.args, " "))
}

// Ensure bootstraps the base path when absent and then verifies every model
// directory is present.
func (p *Provisioner) Ensure(ctx context.Context) error {
	if _, err := os.Stat(p.cfg.BasePath); err == nil {
		p.logger.Info("model repository present, skipping bootstrap", zap.String("path", p.cfg.BasePath))
		return p.Verify()
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", p.cfg.BasePath, err)
	}

	steps := p.plan()
	bar := progressbar.NewOptions(len(steps),
		progressbar.OptionSetWriter(p.progress),
		progressbar.OptionSetDescription("Provisioning models"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
	)

	for _, s := range steps {
		bar.Describe(s.describe)
		p.logger.Info("running provisioning step", zap.String("command", s.String()), zap.String("dir", s.dir))

		out, err := p.runner.Run(ctx, s.dir, s.name, s.args...)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStepFailed, s.String(), err)
		}
		if len(out) > 0 {
			p.logger.Debug("provisioning step output", zap.String("command", s.String()), zap.ByteString("stdout", out))
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	return p.Verify()
}

// Verify checks that every configured model directory exists.
func (p *Provisioner) Verify() error {
	for _, dir := range p.cfg.ModelDirs {
		path := filepath.Join(p.cfg.BasePath, dir)
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrModelMissing, path)
		}
	}
	return nil
}

func (p *Provisioner) plan() []step {
	steps := []step{
		{describe: "Cloning model repository", name: "git", args: []string{"clone", p.cfg.RepoURL, p.cfg.BasePath}},
		{describe: "Installing Git LFS", name: "git", args: []string{"lfs", "install"}},
	}
	for _, dir := range p.cfg.ModelDirs {
		steps = append(steps, step{
			describe: "Pulling " + dir + " weights",
			dir:      filepath.Join(p.cfg.BasePath, dir),
			name:     "git",
			args:     []string{"lfs", "pull"},
		})
	}
	return steps
}
