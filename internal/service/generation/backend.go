// Package generation turns a raw query into a rewritten query using one of
// several interchangeable text-generation backends selected by mode.
package generation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrBackendNotFound = errors.New("no generation backend for mode")
	ErrBackendPanic    = errors.New("generation backend panicked")
	ErrEmptyOutput     = errors.New("model returned no text")
	ErrDeviceMismatch  = errors.New("compute device mismatch")
	ErrModelMismatch   = errors.New("model checkpoint mismatch")
)

// Params is the generation configuration handed to every backend.
type Params struct {
	MaxLength         int     `json:"max_length"`
	NumBeams          int     `json:"num_beams"`
	Temperature       float64 `json:"temperature"`
	NoRepeatNgramSize int     `json:"no_repeat_ngram_size"`
	DoSample          bool    `json:"do_sample"`
	SkipSpecialTokens bool    `json:"skip_special_tokens"`
}

// DefaultParams is beam search with five beams; without sampling the
// temperature has no effect and output is deterministic.
func DefaultParams() Params {
	return Params{
		MaxLength:         100,
		NumBeams:          5,
		Temperature:       0.7,
		NoRepeatNgramSize: 2,
		DoSample:          false,
		SkipSpecialTokens: true,
	}
}

// Backend is one loaded model plus its tokenizer.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string, params Params) (string, error)
	Close() error
}

// Info describes a loaded model as reported by its runtime.
type Info struct {
	ModelID string `json:"model_id"`
	Device  string `json:"device"`
}

// Prober is implemented by backends that can report where they run.
type Prober interface {
	Info(ctx context.Context) (Info, error)
}

// Pinned is implemented by backends configured for one checkpoint on disk.
type Pinned interface {
	Model() string
}

// CheckModel reports ErrModelMismatch unless the runtime's model id names the
// configured checkpoint. Servers may report the full path or only the
// directory name, so the last path element is compared when the full paths
// differ.
func CheckModel(want, got string) error {
	if strings.TrimSpace(got) == "" {
		return fmt.Errorf("%w: want %s, backend reports no model", ErrModelMismatch, want)
	}
	w := filepath.Clean(strings.TrimSpace(want))
	g := filepath.Clean(strings.TrimSpace(got))
	if w == g || strings.EqualFold(filepath.Base(w), filepath.Base(g)) {
		return nil
	}
	return fmt.Errorf("%w: want %s, backend reports %q", ErrModelMismatch, want, got)
}

// CheckDevice reports ErrDeviceMismatch unless got satisfies want.
// "any" accepts every device and "gpu" is an alias of "cuda"; indexed
// devices such as "cuda:0" match their kind.
func CheckDevice(want, got string) error {
	want = normalizeDevice(want)
	if want == "" || want == "any" {
		return nil
	}
	if normalizeDevice(got) != want {
		return fmt.Errorf("%w: want %s, backend reports %q", ErrDeviceMismatch, want, got)
	}
	return nil
}

func normalizeDevice(device string) string {
	device = strings.ToLower(strings.TrimSpace(device))
	if i := strings.IndexByte(device, ':'); i >= 0 {
		device = device[:i]
	}
	if device == "gpu" {
		return "cuda"
	}
	return device
}
