package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, key := range []string{"RATINGS_BATCH_SIZE", "EVAL_TIMEOUT_MS", "BROKER_API_BASE", "DEFAULT_TIMEZONE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.RatingsBatchSize)
	assert.Equal(t, 10, cfg.RateLimitEvery)
	assert.Equal(t, time.Second, cfg.RateLimitDelay)
	assert.Equal(t, 5, cfg.TokenPollAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.TokenPollInterval)
	assert.Equal(t, 2*time.Second, cfg.ReinstallInterval)
	assert.Equal(t, "api.robinhood.com", cfg.APIHost())
	assert.Equal(t, "http://127.0.0.1:9220", cfg.CDPURL())
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
}

func TestLoadClampsEvalTimeout(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("EVAL_TIMEOUT_MS", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.EvalTimeout)
}

func TestLoadRejectsBadBatchSize(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RATINGS_BATCH_SIZE", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "RATINGS_BATCH_SIZE")
}

func TestAPIHostStripsPath(t *testing.T) {
	cfg := &Config{APIBase: "http://localhost:9999/api"}
	assert.Equal(t, "localhost:9999", cfg.APIHost())
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols:\n  - aapl\n  - MSFT\n  - \" AAPL \"\n"), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, seed.Symbols)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// chdir mirrors testing.T.Chdir (Go 1.24+): change the working directory for
// the duration of the test and restore it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
