package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.Provider.BaseURL)
	assert.Equal(t, "deepseek-chat", cfg.Provider.Model)
	assert.Equal(t, "nats", cfg.Session.Backend)
	assert.Equal(t, 5, cfg.Tools.SearchMaxResults)
	assert.Equal(t, 10000, cfg.Tools.VisitMaxChars)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Provider.BaseURL = "" },
			wantErr: "base_url is required",
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.Provider.Model = "" },
			wantErr: "model is required",
		},
		{
			name:    "unknown session backend",
			mutate:  func(c *Config) { c.Session.Backend = "redis" },
			wantErr: "unknown session backend",
		},
		{
			name: "nats backend without url or embedded broker",
			mutate: func(c *Config) {
				c.NATS.Embedded = false
				c.NATS.URL = ""
			},
			wantErr: "nats url is required",
		},
		{
			name:    "non-positive search results",
			mutate:  func(c *Config) { c.Tools.SearchMaxResults = 0 },
			wantErr: "search_max_results",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9001
provider:
  model: deepseek-reasoner
session:
  backend: memory
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("SEARCHAGENT_SERVER__PORT", "9002")
	t.Setenv("SEARCHAGENT_PROVIDER__API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file, file beats default.
	assert.Equal(t, 9002, cfg.Server.Port)
	assert.Equal(t, "deepseek-reasoner", cfg.Provider.Model)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey.Value())

	// Untouched sections keep defaults.
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.Provider.BaseURL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-super-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-super-secret")
	assert.Contains(t, string(data), "[REDACTED]")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
