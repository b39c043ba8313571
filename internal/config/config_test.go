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
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.False(t, cfg.TLSEnabled())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("LOG_DEV", "true")

	cfg, err := Load([]string{"-port", "9100", "-admin", "127.0.0.1:9101"})
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "127.0.0.1:9101", cfg.AdminAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.LogDev)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ROOM_IDLE_TTL=30s\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ROOM_IDLE_TTL")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RoomIdleTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad port env", env: map[string]string{"PORT": "eighty"}},
		{name: "bad duration", env: map[string]string{"REAP_INTERVAL": "soon"}},
		{name: "port range", args: []string{"-port", "70000"}},
		{name: "zero poll", args: []string{"-poll", "0s"}},
		{name: "cert without key", args: []string{"-tls-cert", "a.pem"}},
		{name: "unknown flag", args: []string{"-nope"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(tc.args)
			require.Error(t, err)
		})
	}
}

func TestTLSEnabled(t *testing.T) {
	cfg := Default()
	cfg.Port = TLSPort
	assert.True(t, cfg.TLSEnabled())

	cfg = Default()
	cfg.TLSCertFile, cfg.TLSKeyFile = "c.pem", "k.pem"
	assert.True(t, cfg.TLSEnabled())

	cfg = Default()
	cfg.TLSAutocertHost = "play.example.com"
	assert.True(t, cfg.TLSEnabled())
}
