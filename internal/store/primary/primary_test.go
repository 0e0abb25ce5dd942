package primary

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sift/internal/costtracker"
	"sift/internal/models"
	"sift/internal/store"
)

// setupTestStore connects to the database named by SIFT_TEST_DATABASE_DSN. Tests are skipped
// without it.
func setupTestStore(t *testing.T) *StoreImpl {
	t.Helper()
	dsn := os.Getenv("SIFT_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("SIFT_TEST_DATABASE_DSN not set")
	}
	s, err := NewPrimaryStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := &models.BatchRun{ID: uuid.New(), Status: models.RunStatusEnqueued, Sources: []string{"feeds/"}, TotalSources: 1}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())
	assert.ErrorIs(t, s.CreateRun(ctx, run), store.ErrDuplicate)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning, ""))
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)

	res := &models.BatchFilterResult{
		RunID:                 run.ID,
		TotalSources:          2,
		ProcessedSources:      1,
		FailedSources:         1,
		TotalArticlesFetched:  3,
		TotalArticlesSelected: 1,
		StartedAt:             time.Now().Add(-time.Second),
		FinishedAt:            time.Now(),
		Sources: []*models.SubscriptionFilterResult{
			{
				SourceID: "a", SourceTitle: "A", ArticlesFetched: 3, FetchTime: 20 * time.Millisecond,
				Result: &models.FilterChainResult{SourceID: "a", FinalSelectedCount: 1, Stage: models.StageDone, TotalProcessingTime: 150 * time.Millisecond},
			},
			{SourceID: "b", SourceTitle: "B", Error: "fetch failed"},
		},
	}
	require.NoError(t, s.SaveBatchResult(ctx, res))
	// Saving twice replaces the source rows.
	require.NoError(t, s.SaveBatchResult(ctx, res))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, []string{"feeds/"}, got.Sources, "queued inputs are kept")
	assert.Equal(t, 1, got.ArticlesSelected)
	require.NotNil(t, got.FinishedAt)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(got.Report, &report))
	assert.Contains(t, report, "summary")

	srcs, err := s.ListRunSources(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, "a", srcs[0].SourceID)
	assert.Equal(t, 150*time.Millisecond, srcs[0].FilterTime)
	require.NotNil(t, srcs[1].Error)
	assert.Equal(t, "fetch failed", *srcs[1].Error)

	runs, err := s.ListRuns(ctx, 50, 0)
	require.NoError(t, err)
	found := false
	for _, r := range runs {
		if r.ID == run.ID {
			found = true
			assert.Nil(t, r.Report, "list omits reports")
		}
	}
	assert.True(t, found)
}

func TestUpdateRunStatus_NotFound(t *testing.T) {
	s := setupTestStore(t)
	err := s.UpdateRunStatus(context.Background(), uuid.New(), models.RunStatusFailed, "boom")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsageLogs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	runID := uuid.New()

	tracker := costtracker.NewWithRecorder(s)
	err := tracker.RecordCost(costtracker.WithRunID(ctx, runID), costtracker.CostEvent{
		Provider: "openai", Model: "gpt-4o-mini", Operation: models.ServiceTypeEvaluation,
		InputTokens: 100, OutputTokens: 20, AmountUSD: 0.002,
	})
	require.NoError(t, err)

	cost, err := s.GetRunCost(ctx, runID)
	require.NoError(t, err)
	assert.InDelta(t, 0.002, cost, 1e-9)

	total, in, out, err := s.GetUsageSummary(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 0.002)
	assert.GreaterOrEqual(t, in, int64(100))
	assert.GreaterOrEqual(t, out, int64(20))

	logs, err := s.ListUsage(ctx, 10, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}
