package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sift/internal/cache"
	"sift/internal/config"
	"sift/internal/costtracker"
	"sift/internal/models"
)

type step struct {
	content string
	err     error
}

// scriptedCompleter replays steps in order, repeating the last one once exhausted.
type scriptedCompleter struct {
	mu       sync.Mutex
	steps    []step
	requests []openai.ChatCompletionRequest
}

func (s *scriptedCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	st := s.steps[i]
	if st.err != nil {
		return openai.ChatCompletionResponse{}, st.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: st.content}}},
		Usage:   openai.Usage{PromptTokens: 100, CompletionTokens: 50},
	}, nil
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func testOptions() Options {
	return Options{
		Model:             "test-model",
		Timeout:           time.Second,
		Retry:             &FixedRetryStrategy{MaxAttempts: 2, DelayMs: 0},
		BatchSize:         5,
		MaxRequests:       50,
		IndividualLimit:   3,
		ScoreThreshold:    20,
		MinConfidence:     0.5,
		FallbackEnabled:   true,
		FallbackBaseScore: 15,
	}
}

func newTestEvaluator(t *testing.T, client ChatCompleter, opts Options, c *cache.Cache) *Evaluator {
	t.Helper()
	p, err := NewProvider(config.ProviderOpenAI, PromptOverrides{})
	require.NoError(t, err)
	return New(client, p, c, opts, nil)
}

func evalJSON(rel, inn, prac, total int, conf float64) string {
	return fmt.Sprintf(`{"relevance_score": %d, "innovation_impact": %d, "practicality": %d, "total_score": %d, "reasoning": "solid", "confidence": %v}`,
		rel, inn, prac, total, conf)
}

func article(id string) *models.Article {
	return &models.Article{ID: id, Title: "Title " + id, Summary: "Summary " + id, Content: "Body of " + id + "."}
}

func TestEvaluateOne_Success(t *testing.T) {
	client := &scriptedCompleter{steps: []step{{content: "Here you go:\n```json\n" + evalJSON(8, 7, 6, 21, 0.9) + "\n```"}}}
	e := newTestEvaluator(t, client, testOptions(), nil)

	got, raw, err := e.EvaluateOne(context.Background(), article("a"))
	require.NoError(t, err)
	assert.Contains(t, raw, "relevance_score")
	assert.Equal(t, 8, got.RelevanceScore)
	assert.Equal(t, 21, got.TotalScore)
	assert.Equal(t, got.RelevanceScore+got.InnovationImpact+got.Practicality, got.TotalScore)
	assert.False(t, got.Degraded)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)

	req := client.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "Title a")
}

func TestEvaluateOne_RecomputesInconsistentTotal(t *testing.T) {
	client := &scriptedCompleter{steps: []step{{content: evalJSON(5, 5, 5, 29, 0.8)}}}
	e := newTestEvaluator(t, client, testOptions(), nil)

	got, _, err := e.EvaluateOne(context.Background(), article("a"))
	require.NoError(t, err)
	assert.Equal(t, 15, got.TotalScore)
}

func TestEvaluateOne_TransportFailureFallsBack(t *testing.T) {
	client := &scriptedCompleter{steps: []step{{err: errors.New("connection refused")}}}
	e := newTestEvaluator(t, client, testOptions(), nil)

	got, _, err := e.EvaluateOne(context.Background(), article("a"))
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls(), "first call plus two retries")
	assert.Equal(t, 0.5, got.Confidence)
	assert.True(t, got.Degraded)
	assert.Equal(t, 15, got.TotalScore)

	m := e.Metrics()
	assert.Equal(t, 3, m.Requests)
	assert.Equal(t, 1, m.Failures)
	assert.Equal(t, 1, m.Fallbacks)
}

func TestEvaluateOne_ParseFailureIsNotRetried(t *testing.T) {
	client := &scriptedCompleter{steps: []step{{content: "I cannot answer that."}}}
	e := newTestEvaluator(t, client, testOptions(), nil)

	got, raw, err := e.EvaluateOne(context.Background(), article("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls())
	assert.True(t, got.Degraded)
	assert.Equal(t, "I cannot answer that.", raw)
}

func TestEvaluateOne_TypedErrorsWithoutFallback(t *testing.T) {
	opts := testOptions()
	opts.FallbackEnabled = false

	transport := newTestEvaluator(t, &scriptedCompleter{steps: []step{{err: errors.New("timeout")}}}, opts, nil)
	_, _, err := transport.EvaluateOne(context.Background(), article("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)

	parse := newTestEvaluator(t, &scriptedCompleter{steps: []step{{content: `{"relevance_score": 5}`}}}, opts, nil)
	_, _, err = parse.EvaluateOne(context.Background(), article("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	assert.Contains(t, err.Error(), "innovation_impact")

	outOfRange := newTestEvaluator(t, &scriptedCompleter{steps: []step{{content: evalJSON(11, 5, 5, 21, 0.9)}}}, opts, nil)
	_, _, err = outOfRange.EvaluateOne(context.Background(), article("a"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestEvaluateOne_CacheHonoursMinConfidence(t *testing.T) {
	c := cache.New(time.Hour, 10)
	client := &scriptedCompleter{steps: []step{
		{content: evalJSON(8, 8, 8, 24, 0.9)},
		{content: evalJSON(2, 2, 2, 6, 0.3)},
	}}
	e := newTestEvaluator(t, client, testOptions(), c)

	_, _, err := e.EvaluateOne(context.Background(), article("a"))
	require.NoError(t, err)
	cached, _, err := e.EvaluateOne(context.Background(), article("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 24, cached.TotalScore)

	_, _, err = e.EvaluateOne(context.Background(), article("b"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len(), "low confidence evaluations are not cached")
	assert.Equal(t, 1, e.Metrics().CacheHits)
}

func TestEvaluateOne_FallbackIsNotCached(t *testing.T) {
	c := cache.New(time.Hour, 10)
	e := newTestEvaluator(t, &scriptedCompleter{steps: []step{{err: errors.New("down")}}}, testOptions(), c)
	_, _, err := e.EvaluateOne(context.Background(), article("a"))
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}

func TestEvaluateOne_CancelledDuringCallDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := new(mockCompleter)
	var callCtxErr error
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			callCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: evalJSON(9, 9, 9, 27, 0.9)}}},
		}, nil).Once()

	e := newTestEvaluator(t, client, testOptions(), nil)
	_, _, err := e.EvaluateOne(ctx, article("a"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, callCtxErr, "the in-flight call is not cancelled")
	client.AssertExpectations(t)
}

func TestEvaluateOne_CancelledDuringBackoff(t *testing.T) {
	opts := testOptions()
	opts.Retry = &FixedRetryStrategy{MaxAttempts: 5, DelayMs: 60000}
	client := &scriptedCompleter{steps: []step{{err: errors.New("503")}}}
	e := newTestEvaluator(t, client, opts, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, err := e.EvaluateOne(ctx, article("a"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, client.calls())
}

func TestEvaluateBatch_SmallSetsAreIndividual(t *testing.T) {
	client := &scriptedCompleter{steps: []step{{content: evalJSON(7, 7, 7, 21, 0.9)}}}
	e := newTestEvaluator(t, client, testOptions(), nil)

	got, err := e.EvaluateBatch(context.Background(), []*models.Article{article("a"), article("b"), article("c")})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 3, client.calls())
}

func TestEvaluateBatch_BackfillsMissingEntries(t *testing.T) {
	var entries []string
	for _, idx := range []int{0, 1, 3, 4, 9} { // 2 is missing, 9 is out of range
		entries = append(entries, fmt.Sprintf(`{"article_index": %d, "relevance_score": 8, "innovation_impact": 7, "practicality": 6, "total_score": 21, "reasoning": "r", "confidence": 0.9}`, idx))
	}
	client := &scriptedCompleter{steps: []step{{content: "[" + strings.Join(entries, ",") + "]"}}}
	e := newTestEvaluator(t, client, testOptions(), nil)

	articles := []*models.Article{article("a"), article("b"), article("c"), article("d"), article("e")}
	got, err := e.EvaluateBatch(context.Background(), articles)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 1, client.calls())
	assert.Contains(t, client.requests[0].Messages[1].Content, "Article 4:")

	for i, ev := range got {
		if i == 2 {
			assert.True(t, ev.Degraded)
			continue
		}
		assert.False(t, ev.Degraded)
		assert.Equal(t, 21, ev.TotalScore)
	}
}

func TestEvaluateBatch_WholeBatchFailure(t *testing.T) {
	client := &scriptedCompleter{steps: []step{{content: "not json at all"}}}
	e := newTestEvaluator(t, client, testOptions(), nil)

	articles := []*models.Article{article("a"), article("b"), article("c"), article("d")}
	got, err := e.EvaluateBatch(context.Background(), articles)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, ev := range got {
		assert.True(t, ev.Degraded)
		assert.Equal(t, FallbackConfidence, ev.Confidence)
	}
}

func TestFilter_ThresholdAndOrder(t *testing.T) {
	client := &scriptedCompleter{steps: []step{
		{content: evalJSON(5, 5, 5, 15, 0.9)},
		{content: evalJSON(9, 9, 9, 27, 0.9)},
		{err: errors.New("down")},
	}}
	opts := testOptions()
	opts.Retry = &FixedRetryStrategy{}
	e := newTestEvaluator(t, client, opts, nil)

	got, err := e.Filter(context.Background(), []*models.Article{article("low"), article("high"), article("broken")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].Article.ID)
	assert.Equal(t, "broken", got[1].Article.ID)
	assert.True(t, got[1].Evaluation.Degraded, "degraded evaluations are kept")
	assert.Equal(t, "test-model", got[0].Model)
}

func TestFilter_ServesCacheFirst(t *testing.T) {
	c := cache.New(time.Hour, 10)
	a := article("a")
	seed, err := models.NewAIEvaluation(9, 9, 8, "cached", 0.9)
	require.NoError(t, err)
	c.Set(cache.Key(a.Title, a.Summary), seed)

	client := &scriptedCompleter{steps: []step{{content: evalJSON(7, 7, 7, 21, 0.9)}}}
	e := newTestEvaluator(t, client, testOptions(), c)

	got, err := e.Filter(context.Background(), []*models.Article{a, article("b")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Cached)
	assert.Equal(t, 1, client.calls())
}

func TestFilter_AllFailedWithoutFallback(t *testing.T) {
	opts := testOptions()
	opts.FallbackEnabled = false
	opts.Retry = &FixedRetryStrategy{}
	e := newTestEvaluator(t, &scriptedCompleter{steps: []step{{err: errors.New("down")}}}, opts, nil)

	_, err := e.Filter(context.Background(), []*models.Article{article("a"), article("b")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestFilter_MaxRequests(t *testing.T) {
	opts := testOptions()
	opts.MaxRequests = 2
	client := &scriptedCompleter{steps: []step{{content: evalJSON(8, 8, 8, 24, 0.9)}}}
	e := newTestEvaluator(t, client, opts, nil)

	got, err := e.Filter(context.Background(), []*models.Article{article("a"), article("b"), article("c")})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, client.calls())
	assert.Equal(t, 2, e.RequestLimit())
}

func TestCostRecording(t *testing.T) {
	opts := testOptions()
	opts.Pricing = config.PricingInfo{InputPerToken: 0.001, OutputPerToken: 0.002}
	tracker := costtracker.New()
	p, err := NewProvider(config.ProviderOpenAI, PromptOverrides{})
	require.NoError(t, err)
	e := New(&scriptedCompleter{steps: []step{{content: evalJSON(8, 8, 8, 24, 0.9)}}}, p, nil, opts, tracker)

	_, _, err = e.EvaluateOne(context.Background(), article("a"))
	require.NoError(t, err)
	total, _ := tracker.TotalCost(context.Background())
	assert.InDelta(t, 0.2, total, 1e-9)
}

func TestMockCompleterThroughEvaluator(t *testing.T) {
	e := newTestEvaluator(t, MockCompleter{}, testOptions(), nil)
	articles := []*models.Article{article("a"), article("b"), article("c"), article("d"), article("e")}

	first, err := e.EvaluateBatch(context.Background(), articles)
	require.NoError(t, err)
	second, err := e.EvaluateBatch(context.Background(), articles)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	for _, ev := range first {
		assert.False(t, ev.Degraded)
		assert.Equal(t, ev.RelevanceScore+ev.InnovationImpact+ev.Practicality, ev.TotalScore)
	}
}
