package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	full := writeTempJSON(t, dir, "full.json", map[string]any{
		"data_dir":            "/srv/mindvault",
		"encryption":          "on",
		"user_id":             "u1",
		"log_level":           "warn",
		"log_backend":         "zap",
		"open_timeout":        "3s",
		"blocked_retries":     5,
		"blocked_retry_delay": "50ms",
		"delete_retry_delay":  1000000,
	})
	partial := writeTempJSON(t, dir, "partial.json", map[string]any{
		"user_id": "u2",
	})

	t.Run("loads every field", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", full}

		cfg := &Config{}
		parseJson(cfg)

		want := &Config{
			DataDir:           "/srv/mindvault",
			Encryption:        "on",
			UserID:            "u1",
			LogLevel:          "warn",
			LogBackend:        "zap",
			OpenTimeout:       3 * time.Second,
			BlockedRetries:    5,
			BlockedRetryDelay: 50 * time.Millisecond,
			DeleteRetryDelay:  time.Millisecond,
		}
		assert.Empty(t, cmp.Diff(want, cfg))
	})

	t.Run("absent keys keep defaults", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "u2", cfg.UserID)
		assert.Equal(t, "mindvault-data", cfg.DataDir)
		assert.Equal(t, 2*time.Second, cfg.OpenTimeout)
	})

	t.Run("flags override json", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", full, "-u", "u9"}

		cfg := LoadConfig()
		assert.Equal(t, "u9", cfg.UserID)
		assert.Equal(t, "/srv/mindvault", cfg.DataDir)
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{UserID: "defaults", OpenTimeout: 42 * time.Second}
		parseJson(cfg)

		assert.Equal(t, "defaults", cfg.UserID)
		assert.Equal(t, 42*time.Second, cfg.OpenTimeout)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
