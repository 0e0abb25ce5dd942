package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sift/internal/batch"
)

const testConfig = `
log:
  level: warn
keywords:
  min_matches: 1
  threshold: 0.1
  categories:
    tech:
      keywords: ["AI", "robot", "machine learning"]
      weight: 1.0
ai:
  provider: openai
  dry_run: true
  score_threshold: 0
chain:
  keyword_threshold: 0
  final_score_threshold: 0
`

const testSource = `{
  "id": "tech-feed",
  "title": "Tech Feed",
  "articles": [
    {"id": "1", "title": "Robot arms learn with AI", "summary": "Machine learning lets robot arms grasp new objects."},
    {"id": "2", "title": "Gardening tips for spring", "summary": "Plant tomatoes after the last frost."}
  ]
}`

func writeFixtures(t *testing.T) (cfgPath, srcDir string) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SIFT_DATABASE_DSN", "")
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600))
	srcDir = filepath.Join(dir, "sources")
	require.NoError(t, os.Mkdir(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "tech.json"), []byte(testSource), 0o600))
	return cfgPath, srcDir
}

// execute runs the root command in-process. Flag values survive between Execute calls, so every
// flag is reset to its default first.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	return rootCmd.Execute()
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()
	fn()
	w.Close()
	os.Stdout = old
	return <-done
}

func TestRunCommand_JSONReport(t *testing.T) {
	cfgPath, srcDir := writeFixtures(t)
	out := filepath.Join(t.TempDir(), "report.json")

	require.NoError(t, execute(t, "run", srcDir, "--config", cfgPath, "--format", "json", "--output", out, "--mode", "sequential"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var rep batch.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 1, rep.Summary.TotalSources)
	assert.Equal(t, 1, rep.Summary.ProcessedSources)
	assert.Equal(t, 2, rep.Summary.TotalArticlesFetched)
	require.Len(t, rep.Sources, 1)
	assert.Equal(t, "Tech Feed", rep.Sources[0].SourceTitle)
	require.Len(t, rep.Sources[0].Selected, 1)
	assert.Equal(t, "1", rep.Sources[0].Selected[0].ID)
}

func TestRunCommand_Errors(t *testing.T) {
	cfgPath, srcDir := writeFixtures(t)

	err := execute(t, "run", srcDir, "--config", cfgPath, "--mode", "random")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --mode")

	err = execute(t, "run", srcDir, "--config", cfgPath, "--save")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")

	err = execute(t, "run", filepath.Join(srcDir, "missing.json"), "--config", cfgPath)
	assert.Error(t, err)
}

func TestScoreCommand(t *testing.T) {
	cfgPath, srcDir := writeFixtures(t)

	var err error
	out := captureStdout(t, func() {
		err = execute(t, "score", srcDir, "--config", cfgPath, "--all")
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Robot arms learn with AI")
	assert.Contains(t, out, "Gardening tips for spring")
	assert.Contains(t, out, "1 of 2 articles pass")
}

func TestEvaluateCommand(t *testing.T) {
	cfgPath, srcDir := writeFixtures(t)

	var err error
	out := captureStdout(t, func() {
		err = execute(t, "evaluate", filepath.Join(srcDir, "tech.json"), "--id", "1", "--config", cfgPath, "--json")
	})
	require.NoError(t, err)
	var eval struct {
		TotalScore int `json:"total_score"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &eval))
	assert.Positive(t, eval.TotalScore)

	err = execute(t, "evaluate", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--title")
}

func TestDatabaseCommandsNeedDSN(t *testing.T) {
	cfgPath, _ := writeFixtures(t)

	for _, args := range [][]string{
		{"runs", "list"},
		{"cost", "summary"},
		{"enqueue", "feeds/"},
	} {
		err := execute(t, append(args, "--config", cfgPath)...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "database.dsn", args)
	}
}
