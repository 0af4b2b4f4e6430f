package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
timezone = "Asia/Ho_Chi_Minh"

[github]
token = "file-token"
mirrors = ["acme/drive-sync", "backup/drive-sync", "acme/drive-sync"]

[schedule]
interval = "5m"
jitter = 0.2

[server]
addr = "127.0.0.1:9090"
stream_interval = "10s"

[queue]
dsn = "file:///tmp/mirrorrelay-queue.json"
workers = 4
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "mirrorrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.GitHub.Token)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIBase)
	assert.Equal(t, "main", cfg.GitHub.PrimaryBranch)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.Interval.Duration)
	assert.Equal(t, 0.2, cfg.Schedule.Jitter)
	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.StreamInterval.Duration)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 256, cfg.Queue.Capacity)

	mirrors := cfg.MirrorList()
	require.Len(t, mirrors, 2)
	assert.Equal(t, "acme/drive-sync", mirrors[0].String())
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.Location().String())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)
	t.Setenv("MIRRORRELAY_GITHUB_TOKEN", "env-token")
	t.Setenv("MIRRORRELAY_GITHUB_MIRRORS", "one/repo, two/repo")
	t.Setenv("MIRRORRELAY_SCHEDULE_INTERVAL", "90s")
	t.Setenv("MIRRORRELAY_SCHEDULE_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.GitHub.Token)
	assert.Equal(t, []string{"one/repo", "two/repo"}, cfg.GitHub.Mirrors)
	assert.Equal(t, 90*time.Second, cfg.Schedule.Interval.Duration)
	assert.False(t, cfg.Schedule.Enabled)
}

func TestLoadRejectsInvalidShapes(t *testing.T) {
	cases := map[string]string{
		"no mirrors":    "[github]\nmirrors = []\n",
		"bad mirror":    "[github]\nmirrors = [\"justname\"]\n",
		"zero interval": "[github]\nmirrors = [\"a/b\"]\n[schedule]\ninterval = \"0s\"\n",
		"bad jitter":    "[github]\nmirrors = [\"a/b\"]\n[schedule]\njitter = 2.0\n",
		"bad timezone":  "timezone = \"Mars/Olympus\"\n[github]\nmirrors = [\"a/b\"]\n",
		"unknown key":   "[github]\nmirrors = [\"a/b\"]\nbogus = 1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), body))
			assert.Error(t, err)
		})
	}
}

func TestEmptyTokenIsValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), "[github]\nmirrors = [\"a/b\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.GitHub.Token)
}

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("MIRRORRELAY_TEST_INT", "42")
	assert.Equal(t, 42, intEnv("MIRRORRELAY_TEST_INT", 7))
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("MIRRORRELAY_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, intEnv("MIRRORRELAY_TEST_INT_BAD", 7))
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("MIRRORRELAY_TEST_DURATION", "150ms")
	assert.Equal(t, 150*time.Millisecond, durationEnv("MIRRORRELAY_TEST_DURATION", time.Second))
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("MIRRORRELAY_TEST_DURATION_BAD", "soon")
	assert.Equal(t, 2*time.Second, durationEnv("MIRRORRELAY_TEST_DURATION_BAD", 2*time.Second))
}

func TestFloatEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("MIRRORRELAY_TEST_FLOAT_BAD", "lots")
	assert.Equal(t, 0.5, floatEnv("MIRRORRELAY_TEST_FLOAT_BAD", 0.5))
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("MIRRORRELAY_TEST_INT_UNSET")
	_ = os.Unsetenv("MIRRORRELAY_TEST_DURATION_UNSET")
	assert.Equal(t, 9, intEnv("MIRRORRELAY_TEST_INT_UNSET", 9))
	assert.Equal(t, 3*time.Second, durationEnv("MIRRORRELAY_TEST_DURATION_UNSET", 3*time.Second))
	assert.True(t, boolEnv("MIRRORRELAY_TEST_BOOL_UNSET", true))
}

func TestWatchSwapsValidReloadsOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[github]\nmirrors = [\"a/b\"]\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, store, WatchOptions{
		Debounce: 20 * time.Millisecond,
		OnReload: func(c *Config) { reloaded <- c },
	}))

	// Invalid content keeps the previous snapshot.
	require.NoError(t, os.WriteFile(path, []byte("[github]\nmirrors = []\n"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, "a/b", store.Load().MirrorList()[0].String())

	require.NoError(t, os.WriteFile(path, []byte("[github]\nmirrors = [\"c/d\"]\n"), 0o644))
	select {
	case c := <-reloaded:
		assert.Equal(t, "c/d", c.MirrorList()[0].String())
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.Equal(t, "c/d", store.Load().MirrorList()[0].String())
}
