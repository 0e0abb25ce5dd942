package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
keywords:
  min_matches: 1
  categories:
    tech:
      keywords: ["AI", "quantum computing"]
      weight: 1.0
    location:
      keywords: ["Shanghai"]
      weight: 0.8
ai:
  provider: moonshot
  api_key: test-key
  model: moonshot-v1-8k
  retry_delay: 250ms
tags:
  limits:
    tech:
      max_count: 3
      priority: 1.0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Keywords.MinMatches)
	assert.Len(t, cfg.Keywords.Categories, 2)
	assert.Equal(t, []string{"Shanghai"}, cfg.Keywords.Categories["location"].Keywords)
	assert.Equal(t, ProviderMoonshot, cfg.AI.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.AI.RetryDelay)
	assert.Equal(t, 3, cfg.Tags.Limits["tech"].MaxCount)

	// defaults
	assert.Equal(t, 0.6, cfg.Keywords.Threshold)
	assert.Equal(t, 2000, cfg.Keywords.ContentPrefix)
	assert.Equal(t, 0.05, cfg.Keywords.Scoring.PositionFactor)
	assert.Equal(t, 3, cfg.AI.RetryTimes)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 0.7, cfg.Chain.FinalScoreThreshold)
	assert.Equal(t, "parallel", cfg.Batch.Mode)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no categories", func(c *Config) { c.Keywords.Categories = nil }, "keywords.categories"},
		{"unknown provider", func(c *Config) { c.AI.Provider = "acme" }, "ai.provider"},
		{"missing key", func(c *Config) { c.AI.APIKey = "" }, "ai.api_key is required"},
		{"dry run needs no key", func(c *Config) { c.AI.APIKey = ""; c.AI.DryRun = true }, ""},
		{"ai disabled needs no key", func(c *Config) { c.AI.APIKey = ""; c.Chain.EnableAIFilter = false }, ""},
		{"bad retry", func(c *Config) { c.AI.RetryTimes = 0 }, "ai.retry_times"},
		{"bad backoff", func(c *Config) { c.AI.RetryBackoff = "random" }, "ai.retry_backoff"},
		{"negative quota", func(c *Config) { c.Tags.Limits["tech"] = TagLimitConfig{MaxCount: -1} }, "max_count"},
		{"bad sort", func(c *Config) { c.Chain.SortBy = "random" }, "chain.sort_by"},
		{"bad mode", func(c *Config) { c.Batch.Mode = "async" }, "batch.mode"},
		{"no workers", func(c *Config) { c.Batch.Workers = 0 }, "batch.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, sampleYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveAPIKey_EnvFallback(t *testing.T) {
	t.Setenv("MOONSHOT_API_KEY", "from-env")
	cfg := &Config{}
	cfg.AI.Provider = ProviderMoonshot
	assert.Equal(t, "from-env", cfg.ResolveAPIKey())

	cfg.AI.APIKey = "explicit"
	assert.Equal(t, "explicit", cfg.ResolveAPIKey())
}

func TestLoadPromptContent(t *testing.T) {
	got, err := LoadPromptContent("", "builtin")
	require.NoError(t, err)
	assert.Equal(t, "builtin", got)

	path := filepath.Join(t.TempDir(), "p.txt")
	require.NoError(t, os.WriteFile(path, []byte("custom {title}"), 0o600))
	got, err = LoadPromptContent(path, "builtin")
	require.NoError(t, err)
	assert.Equal(t, "custom {title}", got)

	blank := filepath.Join(t.TempDir(), "blank.txt")
	require.NoError(t, os.WriteFile(blank, []byte("  \n"), 0o600))
	got, err = LoadPromptContent(blank, "builtin")
	require.NoError(t, err)
	assert.Equal(t, "builtin", got)

	t.Setenv("HOME", t.TempDir())
	_, err = LoadPromptContent("does-not-exist.txt", "builtin")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
