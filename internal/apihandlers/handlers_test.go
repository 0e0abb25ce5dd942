package apihandlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sift/internal/app"
	"sift/internal/config"
	"sift/internal/models"
	"sift/internal/store"
)

const testConfig = `
keywords:
  min_matches: 1
  categories:
    tech:
      keywords: ["AI", "robot"]
      weight: 1.0
ai:
  provider: openai
  dry_run: true
  score_threshold: 0
chain:
  keyword_threshold: 0
  final_score_threshold: 0
`

type mockRunStore struct {
	mock.Mock
	store.RunStore
}

func (m *mockRunStore) ListRuns(ctx context.Context, limit, offset int) ([]*models.BatchRun, error) {
	args := m.Called(ctx, limit, offset)
	runs, _ := args.Get(0).([]*models.BatchRun)
	return runs, args.Error(1)
}

func (m *mockRunStore) GetRun(ctx context.Context, id uuid.UUID) (*models.BatchRun, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*models.BatchRun)
	return run, args.Error(1)
}

func (m *mockRunStore) ListRunSources(ctx context.Context, id uuid.UUID) ([]*models.RunSource, error) {
	args := m.Called(ctx, id)
	srcs, _ := args.Get(0).([]*models.RunSource)
	return srcs, args.Error(1)
}

type mockJobClient struct {
	mock.Mock
}

func (m *mockJobClient) Enqueue(ctx context.Context, task *asynq.Task, runID uuid.UUID, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, runID, opts)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *mockJobClient) EnqueueBatchRun(ctx context.Context, sources []string) (*models.BatchRun, error) {
	args := m.Called(ctx, sources)
	run, _ := args.Get(0).(*models.BatchRun)
	return run, args.Error(1)
}

func (m *mockJobClient) Close() error { return nil }

func setupRouter(t *testing.T) (*gin.Engine, *app.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	a, err := app.NewApp(context.Background(), cfg, app.Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	r := gin.New()
	RegisterRoutes(r, NewAPIHandler(a))
	return r, a
}

func do(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestFilterHandler(t *testing.T) {
	r, _ := setupRouter(t)

	t.Run("runs the chain", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/filter", FilterRequest{
			SourceID: "feed-1",
			Articles: []*models.Article{
				{ID: "1", Title: "Robot arms learn with AI"},
				{ID: "2", Title: "Gardening tips for spring"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Data FilterResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "feed-1", resp.Data.SourceID)
		assert.Equal(t, 2, resp.Data.TotalArticles)
		assert.Equal(t, 1, resp.Data.KeywordFilteredCount)
		assert.Equal(t, models.StageDone, resp.Data.Stage)
	})

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty articles", FilterRequest{}},
		{"missing title", FilterRequest{Articles: []*models.Article{{ID: "x", Title: "  "}}}},
		{"malformed", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/filter", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "bad_request")
		})
	}
}

func TestEnqueueBatchHandler(t *testing.T) {
	r, a := setupRouter(t)

	w := do(r, http.MethodPost, "/api/v1/batches", EnqueueBatchRequest{Sources: []string{"feeds/"}})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no queue configured")

	jc := new(mockJobClient)
	run := &models.BatchRun{ID: uuid.New(), Status: models.RunStatusEnqueued, Sources: []string{"feeds/"}, TotalSources: 1}
	jc.On("EnqueueBatchRun", mock.Anything, []string{"feeds/"}).Return(run, nil).Once()
	a.JobClient = jc

	w = do(r, http.MethodPost, "/api/v1/batches", EnqueueBatchRequest{Sources: []string{"feeds/"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), run.ID.String())
	jc.AssertExpectations(t)

	w = do(r, http.MethodPost, "/api/v1/batches", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunHandlers(t *testing.T) {
	r, a := setupRouter(t)

	w := do(r, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	runs := new(mockRunStore)
	a.RunStore = runs
	id := uuid.New()
	runs.On("ListRuns", mock.Anything, 5, 10).Return([]*models.BatchRun{{ID: id, Status: models.RunStatusCompleted}}, nil).Once()
	runs.On("GetRun", mock.Anything, id).Return(&models.BatchRun{ID: id, Status: models.RunStatusCompleted}, nil).Once()
	runs.On("ListRunSources", mock.Anything, id).Return([]*models.RunSource{{RunID: id, SourceID: "feed-1"}}, nil).Once()
	missing := uuid.New()
	runs.On("GetRun", mock.Anything, missing).Return(nil, store.ErrNotFound).Once()

	w = do(r, http.MethodGet, "/api/v1/runs?limit=5&offset=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id.String())

	w = do(r, http.MethodGet, "/api/v1/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/runs/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "feed-1")

	w = do(r, http.MethodGet, "/api/v1/runs/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	runs.AssertExpectations(t)
}

func TestCacheStatsAndHealth(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/api/v1/filter", FilterRequest{
		SourceID: "feed-1",
		Articles: []*models.Article{{ID: "1", Title: "Robot arms learn with AI"}, {ID: "2", Title: "Gardening tips"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data CacheStatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Enabled)
	require.NotNil(t, resp.Data.Metrics)
	require.NotNil(t, resp.Data.Metrics.Cache)
	require.NotNil(t, resp.Data.Keyword)
	assert.Equal(t, 2, resp.Data.Keyword.Processed)

	w = do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
