package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"INBOXPAL_BACKEND_URL", "INBOXPAL_REQUEST_TIMEOUT", "INBOXPAL_STATE_DIR",
		"INBOXPAL_STORE", "INBOXPAL_CALLBACK_ADDR", "INBOXPAL_UPLOAD_FORMAT",
		"INBOXPAL_DEVICE", "INBOXPAL_COPY", "INBOXPAL_LOG_LEVEL",
		"INBOXPAL_LOG_PATH", "INBOXPAL_METRICS_ADDR",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("INBOXPAL_STATE_DIR", t.TempDir())

	cfg, err := Load(Overrides{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "file", cfg.Store)
	assert.Equal(t, "flac", cfg.UploadFormat)
	assert.Equal(t, "127.0.0.1:5173", cfg.CallbackAddr)
	assert.True(t, cfg.Copy)
	assert.True(t, cfg.Cues)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"INBOXPAL_BACKEND_URL=http://api.test:9000\nINBOXPAL_STORE=sqlite\nINBOXPAL_STATE_DIR="+dir+"\n"), 0644))
	t.Cleanup(func() {
		os.Unsetenv("INBOXPAL_BACKEND_URL")
		os.Unsetenv("INBOXPAL_STORE")
		os.Unsetenv("INBOXPAL_STATE_DIR")
	})

	cfg, err := Load(Overrides{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "http://api.test:9000", cfg.BackendURL)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, dir, cfg.StateDir)
}

func TestLoadMalformedEnvFile(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("INBOXPAL_BACKEND_URL=\"http://api.test\n"), 0644))

	_, err := Load(Overrides{EnvFile: envFile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), envFile)
}

func TestOverridesWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("INBOXPAL_BACKEND_URL", "http://env:1")
	t.Setenv("INBOXPAL_STATE_DIR", t.TempDir())

	cfg, err := Load(Overrides{
		EnvFile:      filepath.Join(t.TempDir(), "none"),
		BackendURL:   "http://flag:2",
		UploadFormat: "wav",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://flag:2", cfg.BackendURL)
	assert.Equal(t, "wav", cfg.UploadFormat)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("INBOXPAL_STATE_DIR", t.TempDir())
	none := filepath.Join(t.TempDir(), "none")

	_, err := Load(Overrides{EnvFile: none, Store: "redis"})
	assert.ErrorContains(t, err, "unknown store")

	_, err = Load(Overrides{EnvFile: none, UploadFormat: "ogg"})
	assert.ErrorContains(t, err, "unknown upload format")
}

func TestDefaultStateDir(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(Overrides{EnvFile: filepath.Join(t.TempDir(), "none")})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.StateDir)
	assert.Equal(t, "inboxpal", filepath.Base(cfg.StateDir))
}
