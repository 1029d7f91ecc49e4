package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRun(t *testing.T) {
	r := New(zap.NewNop())
	ctx := context.Background()

	t.Run("Successful command captures stdout lines", func(t *testing.T) {
		res, err := r.Run(ctx, []string{"sh", "-c", "echo one; echo two"}, Options{})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "sh", res.Command)
		assert.Equal(t, []string{"-c", "echo one; echo two"}, res.Args)
		assert.Equal(t, []string{"one", "two"}, res.Stdout)
		assert.Equal(t, []string{}, res.Stderr)
	})

	t.Run("Empty output yields empty slices", func(t *testing.T) {
		res, err := r.Run(ctx, []string{"true"}, Options{})
		require.NoError(t, err)
		assert.NotNil(t, res.Stdout)
		assert.Empty(t, res.Stdout)
		assert.Empty(t, res.Stderr)
	})

	t.Run("Nonzero exit is recorded without raising", func(t *testing.T) {
		res, err := r.Run(ctx, []string{"sh", "-c", "echo out; echo err >&2; exit 3"}, Options{})
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, []string{"out"}, res.Stdout)
		assert.Equal(t, []string{"err"}, res.Stderr)
	})

	t.Run("Nonzero exit raises when requested", func(t *testing.T) {
		res, err := r.Run(ctx, []string{"sh", "-c", "echo boom >&2; exit 2"}, Options{RaiseOnError: true})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCommandFailed))

		var cmdErr *CommandFailedError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, "sh", cmdErr.Command)
		assert.Equal(t, 2, cmdErr.ExitCode)
		assert.Equal(t, []string{"boom"}, cmdErr.Stderr)
		assert.Contains(t, err.Error(), "error (2) running command sh")

		// The result is still available for inspection
		require.NotNil(t, res)
		assert.Equal(t, 2, res.ExitCode)
	})

	t.Run("Missing binary fails with exit code 127", func(t *testing.T) {
		res, err := r.Run(ctx, []string{"/non/existent/tool", "--flag"}, Options{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCommandFailed)
		require.NotNil(t, res)
		assert.Equal(t, 127, res.ExitCode)
		assert.NotEmpty(t, res.Stderr)
	})

	t.Run("Extra environment overrides current environment", func(t *testing.T) {
		t.Setenv("RUNNER_TEST_VALUE", "from-parent")
		t.Setenv("RUNNER_TEST_KEEP", "kept")

		res, err := r.Run(ctx, []string{"sh", "-c", `echo "$RUNNER_TEST_VALUE $RUNNER_TEST_KEEP $RUNNER_TEST_NEW"`}, Options{
			Env: map[string]string{
				"RUNNER_TEST_VALUE": "override",
				"RUNNER_TEST_NEW":   "added",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"override kept added"}, res.Stdout)
	})

	t.Run("Working directory is honoured", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0644))

		res, err := r.Run(ctx, []string{"ls"}, Options{Dir: dir})
		require.NoError(t, err)
		assert.Equal(t, []string{"marker"}, res.Stdout)
	})

	t.Run("Empty argv fails", func(t *testing.T) {
		_, err := r.Run(ctx, nil, Options{})
		assert.Error(t, err)
	})
}

func TestRunLogsStreamsAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := New(zap.New(core))

	_, err := r.Run(context.Background(), []string{"sh", "-c", "echo hello; echo oops >&2"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("exec").Len())
	stdout := logs.FilterMessage("stdout").All()
	require.Len(t, stdout, 1)
	assert.Equal(t, "hello", stdout[0].ContextMap()["output"])
	assert.Equal(t, 1, logs.FilterMessage("stderr").Len())
}

func TestMergeEnv(t *testing.T) {
	t.Run("No extras returns base", func(t *testing.T) {
		base := []string{"A=1", "B=2"}
		assert.Equal(t, base, mergeEnv(base, nil))
	})

	t.Run("Overrides in place and appends new keys sorted", func(t *testing.T) {
		env := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "D": "5", "C": "4"})
		assert.Equal(t, []string{"A=1", "B=3", "C=4", "D=5"}, env)
	})
}
