package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
  shutdown_timeout: 2s
database:
  url: postgres://localhost/taskboard?sslmode=disable
auth:
  jwt_secret: s3cret
metadata:
  path: meta.json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres://localhost/taskboard?sslmode=disable", cfg.Database.DSN)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "meta.json", cfg.Metadata.Path)
	assert.Equal(t, "http://localhost:9090", cfg.Server.BaseURL)
	assert.Equal(t, "token", cfg.Auth.CookieName)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"PORT":         "7000",
		"DATABASE_URL": "postgres://db",
		"BASE_URL":     "https://tasks.example.com",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	var cfg Config
	cfg.Server.Port = 8080
	require.NoError(t, cfg.applyEnv(lookup))
	cfg.applyDefaults()

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "postgres://db", cfg.Database.DSN)
	assert.Equal(t, "https://tasks.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.ShutdownTimeout)
}

func TestApplyEnvRejectsBadPort(t *testing.T) {
	var cfg Config
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "PORT" {
			return "eighty", true
		}
		return "", false
	})
	assert.Error(t, err)
}
