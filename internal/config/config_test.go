package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5*time.Second, cfg.Session().HeartbeatInterval)
	assert.Equal(t, cfg.HeartbeatInterval.Duration, cfg.WS().PingInterval)
}

func TestLoad_Layering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablesync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = ":9000"
log_level = "debug"
heartbeat_interval = "2s"
dead_after = "6s"
outbox_size = 16
allowed_origins = ["example.com"]
`), 0o600))

	t.Setenv(EnvAddr, ":9100")
	t.Setenv(EnvDeadAfter, "8s")

	cfg, err := Load([]string{"-config", path, "-addr", ":9200", "-log-dev"})
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.Addr, "flags win over env")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogDev)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval.Duration)
	assert.Equal(t, 8*time.Second, cfg.DeadAfter.Duration, "env wins over file")
	assert.Equal(t, 16, cfg.WS().OutboxSize)
	assert.Equal(t, []string{"example.com"}, cfg.WS().OriginPatterns)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad duration", env: map[string]string{EnvDeadAfter: "soon"}},
		{name: "dead before heartbeat", env: map[string]string{EnvHeartbeatInterval: "10s", EnvDeadAfter: "5s"}},
		{name: "tiny outbox", env: map[string]string{EnvOutboxSize: "1"}},
		{name: "bad bool", env: map[string]string{EnvLogDev: "maybe"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "nope.toml")})
	assert.Error(t, err)
}
