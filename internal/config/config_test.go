package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setDirs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MT_STORE_DIR", filepath.Join(dir, "store"))
	t.Setenv("MT_TEMP_DIR", filepath.Join(dir, "tmp"))
	t.Setenv("MT_STATE_FILE", filepath.Join(dir, "state", "state.json"))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := setDirs(t)

	cfg, err := Load(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 5, cfg.DownloadConcurrency)
	assert.Equal(t, 3, cfg.InstallConcurrency)
	assert.Equal(t, 200*time.Millisecond, cfg.NotifyInterval)

	opts := cfg.DownloadOptions()
	assert.Equal(t, 8, opts.RetryBudget)
	assert.Equal(t, 3, opts.LookupPasses)
	assert.Equal(t, int64(500*1024), opts.Stall.HighWater)
	assert.Equal(t, int64(5*1024), opts.Stall.LowWater)
	assert.Equal(t, 8, opts.Stall.Threshold)
	assert.Equal(t, 10*time.Second, opts.Stall.Timeout)

	for _, d := range []string{"store", "tmp", "state"} {
		info, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := setDirs(t)
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("MT_RETRY_BUDGET=4\nMT_LOG_FORMAT=text\n"), 0644))
	t.Cleanup(func() {
		os.Unsetenv("MT_RETRY_BUDGET")
		os.Unsetenv("MT_LOG_FORMAT")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.RetryBudget)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port out of range", "MT_HTTP_PORT", "70000"},
		{"unknown log level", "MT_LOG_LEVEL", "verbose"},
		{"zero concurrency", "MT_DOWNLOAD_CONCURRENCY", "0"},
		{"bad size", "MT_STALL_HIGH_WATER", "fast"},
		{"low above high", "MT_STALL_LOW_WATER", "1MiB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setDirs(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load(filepath.Join(dir, "missing.env"))
			assert.Error(t, err)
		})
	}
}
