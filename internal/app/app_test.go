package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sift/internal/cache"
	"sift/internal/config"
	"sift/internal/evaluator"
)

const testConfig = `
keywords:
  min_matches: 1
  categories:
    tech:
      keywords: ["AI", "chip"]
      weight: 1.0
    location:
      keywords: ["Shanghai"]
      weight: 0.8
ai:
  provider: openai
  dry_run: true
  score_threshold: 0
chain:
  keyword_threshold: 0
  final_score_threshold: 0
tags:
  limits:
    tech:
      max_count: 5
`

const testSource = `[
  {"id": "1", "title": "AI chip startup opens lab in Shanghai", "summary": "A new AI chip design."},
  {"id": "2", "title": "Local bakery wins award", "summary": "Bread."}
]`

func newTestApp(t *testing.T, extra string) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig+extra), 0o600))
	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)

	a, err := NewApp(context.Background(), cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, dir
}

func TestNewApp_DryRunWiring(t *testing.T) {
	a, _ := newTestApp(t, "")
	assert.IsType(t, evaluator.MockCompleter{}, a.Completer)
	assert.NotNil(t, a.Evaluator)
	assert.NotNil(t, a.Scorer)
	assert.NotNil(t, a.Generator)
	assert.NotNil(t, a.Cache)
	assert.Nil(t, a.Store, "no database configured")
	assert.Nil(t, a.JobClient)

	sel, err := a.NewSelector()
	require.NoError(t, err)
	require.NotNil(t, sel)
	l, ok := sel.Tracker().Limit("tech")
	require.True(t, ok)
	assert.Equal(t, 5, l.MaxCount)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Chain.EnableKeywordFilter = true
	_, err := NewApp(context.Background(), cfg, Options{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewApp_QueueNeedsDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600))
	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	cfg.Database.DSN = ""

	_, err = NewApp(context.Background(), cfg, Options{Queue: true})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunBatch_PersistsCache(t *testing.T) {
	a, dir := newTestApp(t, "cache:\n  path: "+filepath.Join(t.TempDir(), "cache.db")+"\n")
	srcPath := filepath.Join(dir, "feed.json")
	require.NoError(t, os.WriteFile(srcPath, []byte(testSource), 0o600))

	res, err := a.RunBatch(context.Background(), []string{srcPath})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalSources)
	assert.Equal(t, 1, res.ProcessedSources)
	assert.Equal(t, 2, res.TotalArticlesFetched)

	chainRes := res.Sources[0].Result
	require.NotNil(t, chainRes)
	assert.Equal(t, 1, chainRes.KeywordFilteredCount)
	assert.Equal(t, 1, chainRes.AIFilteredCount)
	assert.Equal(t, 1, a.Cache.Len())

	reloaded := cache.New(a.Cache.TTL(), 10)
	n, err := a.CacheStore.Load(context.Background(), reloaded)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = a.RunBatch(context.Background(), []string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}
