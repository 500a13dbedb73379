package provision

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	calls  []string
	dirs   []string
	failOn string
	// onClone creates the checkout the way git would.
	onClone func(dest string) error
}

func (r *recordingRunner) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	call := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, call)
	r.dirs = append(r.dirs, dir)
	if r.failOn != "" && strings.HasPrefix(call, r.failOn) {
		return nil, errors.New("exit status 128: fatal: repository not found")
	}
	if len(args) == 3 && args[0] == "clone" && r.onClone != nil {
		return nil, r.onClone(args[2])
	}
	return []byte("ok"), nil
}

func cloneWith(dirs ...string) func(string) error {
	return func(dest string) error {
		for _, d := range dirs {
			if err := os.MkdirAll(filepath.Join(dest, d), 0o755); err != nil {
				return err
			}
		}
		return nil
	}
}

func newTestProvisioner(base string, runner Runner) *Provisioner {
	return New(Config{
		BasePath:  base,
		RepoURL:   "https://example.invalid/query_preprocess.git",
		ModelDirs: []string{"T5-small", "flan-T5-base"},
	}, WithRunner(runner), WithProgress(io.Discard))
}

func TestEnsureBootstrapsMissingRepository(t *testing.T) {
	base := filepath.Join(t.TempDir(), "model")
	runner := &recordingRunner{onClone: cloneWith("T5-small", "flan-T5-base")}

	require.NoError(t, newTestProvisioner(base, runner).Ensure(context.Background()))

	assert.Equal(t, []string{
		"git clone https://example.invalid/query_preprocess.git " + base,
		"git lfs install",
		"git lfs pull",
		"git lfs pull",
	}, runner.calls)
	assert.Equal(t, filepath.Join(base, "T5-small"), runner.dirs[2])
	assert.Equal(t, filepath.Join(base, "flan-T5-base"), runner.dirs[3])
}

func TestEnsureIsIdempotent(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, cloneWith("T5-small", "flan-T5-base")(base))
	runner := &recordingRunner{}

	require.NoError(t, newTestProvisioner(base, runner).Ensure(context.Background()))
	assert.Empty(t, runner.calls)
}

func TestEnsureStopsOnFailedStep(t *testing.T) {
	base := filepath.Join(t.TempDir(), "model")
	runner := &recordingRunner{failOn: "git clone"}

	err := newTestProvisioner(base, runner).Ensure(context.Background())
	require.ErrorIs(t, err, ErrStepFailed)
	assert.Contains(t, err.Error(), "git clone")
	assert.Contains(t, err.Error(), "repository not found")
	assert.Len(t, runner.calls, 1)
}

func TestEnsureFailsWhenModelMissingAfterClone(t *testing.T) {
	base := filepath.Join(t.TempDir(), "model")
	runner := &recordingRunner{onClone: cloneWith("T5-small")}

	err := newTestProvisioner(base, runner).Ensure(context.Background())
	require.Error(t, err)
}

func TestVerifyReportsMissingModel(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, cloneWith("T5-small")(base))

	err := newTestProvisioner(base, &recordingRunner{}).Verify()
	require.ErrorIs(t, err, ErrModelMissing)
	assert.Contains(t, err.Error(), "flan-T5-base")
}
