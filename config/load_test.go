package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
server:
  httpAddr: ":4000"
  streamAddr: ":4001"
upstream:
  baseURL: https://api.test
  username: foo
  password: bar
stream:
  symbol: ABC
  intervalMs: 500
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.Server.HTTPAddr)
	assert.Equal(t, ":4001", cfg.Server.StreamAddr)
	assert.Equal(t, "https://api.test", cfg.Upstream.BaseURL)
	assert.Equal(t, "ABC", cfg.Stream.Symbol)
	assert.Equal(t, 500*time.Millisecond, cfg.StreamInterval())

	// untouched keys keep their defaults
	assert.Equal(t, "/oauth/token", cfg.Upstream.AuthPath)
	assert.Equal(t, ":9100", cfg.Server.MetricsAddr)
	assert.Equal(t, 10*time.Second, cfg.UpstreamTimeout())
}

func TestDefaultPorts(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":3000", cfg.Server.HTTPAddr)
	assert.Equal(t, ":8080", cfg.Server.StreamAddr)
	assert.Equal(t, 3*time.Second, cfg.StreamInterval())
	assert.Equal(t, "XYZ", cfg.Stream.Symbol)
	assert.NoError(t, Validate(cfg))
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
upstream:
  baseURL: https://api.test
  username: foo
  password: bar
`)
	t.Setenv("GW_UPSTREAM_USERNAME", "env-user")
	t.Setenv("GW_UPSTREAM_PASSWORD", "env-pass")
	t.Setenv("GW_UPSTREAM_BASE_URL", "https://env.test/")
	t.Setenv("PORT", "5050")
	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "env-user", cfg.Upstream.Username)
	assert.Equal(t, "env-pass", cfg.Upstream.Password)
	assert.Equal(t, "https://env.test", cfg.Upstream.BaseURL)
	assert.Equal(t, ":5050", cfg.Server.HTTPAddr)
}

func TestLoadWithEnvOverridesRequiresCredentials(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
upstream:
  baseURL: https://api.test
`)
	t.Setenv("GW_UPSTREAM_USERNAME", "")
	t.Setenv("GW_UPSTREAM_PASSWORD", "")
	t.Setenv("username", "")
	t.Setenv("password", "")
	_, err := LoadWithEnvOverrides(path)
	assert.Error(t, err)
}

func TestLoadWithEnvOverridesLegacyKeys(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
upstream:
  baseURL: https://api.test
`)
	t.Setenv("GW_UPSTREAM_USERNAME", "")
	t.Setenv("GW_UPSTREAM_PASSWORD", "")
	t.Setenv("username", "legacy-user")
	t.Setenv("password", "legacy-pass")
	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "legacy-user", cfg.Upstream.Username)
	assert.Equal(t, "legacy-pass", cfg.Upstream.Password)

	// GW_ 前缀优先
	t.Setenv("GW_UPSTREAM_USERNAME", "gw-user")
	cfg, err = LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "gw-user", cfg.Upstream.Username)
}

func TestLoadWithEnvOverridesRevalidates(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
upstream:
  baseURL: https://api.test
  username: foo
  password: bar
`)
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port collides with stream", "PORT", "8080"},
		{"malformed base url", "GW_UPSTREAM_BASE_URL", "not-a-url"},
		{"bad log level", "GW_LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadWithEnvOverrides(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "env overrides")
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("GW_TEST_DOTENV_KEY=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("GW_TEST_DOTENV_KEY") })

	require.NoError(t, LoadEnvFile(envPath))
	assert.Equal(t, "from-dotenv", os.Getenv("GW_TEST_DOTENV_KEY"))

	// a missing file is not an error
	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestValidate(t *testing.T) {
	err := Validate(AppConfig{})
	if err == nil {
		t.Fatalf("expected error for empty config")
	}

	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"same ports", func(c *AppConfig) { c.Server.StreamAddr = c.Server.HTTPAddr }},
		{"bad base url", func(c *AppConfig) { c.Upstream.BaseURL = "not a url" }},
		{"zero interval", func(c *AppConfig) { c.Stream.IntervalMs = 0 }},
		{"empty symbol", func(c *AppConfig) { c.Stream.Symbol = "" }},
		{"bad log level", func(c *AppConfig) { c.Log.Level = "loud" }},
		{"negative margin", func(c *AppConfig) { c.Session.RefreshMarginSec = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
