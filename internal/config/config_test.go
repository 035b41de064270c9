package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultServerLogLevel, cfg.Server.LogLevel)
	assert.Empty(t, cfg.Server.SharedSecret)
	assert.Equal(t, DefaultClientBaseURL, cfg.Client.BaseURL)
	assert.Equal(t, DefaultHeartbeatSchedule, cfg.Heartbeat.Schedule)
	assert.Equal(t, DefaultHeartbeatSkillBudget, cfg.Heartbeat.SkillBudget)
	assert.Equal(t, DefaultTrustBackend, cfg.Trust.Backend)
	assert.NotEmpty(t, cfg.Trust.Path)
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  shared_secret: from-file
heartbeat:
  schedule: "@every 1m"
  user_ids:
    - u1
    - u2
trust:
  backend: sqlite
`), 0644))

	cmd := &cobra.Command{}
	cmd.Flags().String("config", path, "")

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Server.SharedSecret)
	assert.Equal(t, "@every 1m", cfg.Heartbeat.Schedule)
	assert.Equal(t, []string{"u1", "u2"}, cfg.Heartbeat.UserIDs)
	assert.Equal(t, "sqlite", cfg.Trust.Backend)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultServerLogLevel, cfg.Server.LogLevel)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0644))

	cmd := &cobra.Command{}
	cmd.Flags().String("config", path, "")
	t.Setenv("VALET_SERVER_PORT", "9100")

	cfg, err := Load(cmd)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoad_SecretEnvFillsBothSides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VALET_SECRET", "hunter2")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Server.SharedSecret)
	assert.Equal(t, "hunter2", cfg.Client.SharedSecret)
}

func TestLoad_SecretEnvDoesNotOverrideExplicit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VALET_SECRET", "fallback")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  shared_secret: explicit\n"), 0644))

	cmd := &cobra.Command{}
	cmd.Flags().String("config", path, "")

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, "explicit", cfg.Server.SharedSecret)
	assert.Equal(t, "fallback", cfg.Client.SharedSecret)
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "/nonexistent/config.yaml", "")

	_, err := Load(cmd)
	require.Error(t, err)
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("15s", "30s")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)

	d, err = DurationOrDefault("", "30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = DurationOrDefault("  ", "1m")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = DurationOrDefault("soon", "30s")
	require.Error(t, err)

	_, err = DurationOrDefault("", "")
	require.Error(t, err)
}
