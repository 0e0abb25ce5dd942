package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"sift/internal/cache"
	"sift/internal/config"
	"sift/internal/costtracker"
	"sift/internal/models"
)

type Options struct {
	Model             string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration
	Retry             RetryStrategy
	BatchSize         int
	MaxRequests       int
	IndividualLimit   int // batches this small are evaluated one article at a time
	ScoreThreshold    int
	MinConfidence     float64
	FallbackEnabled   bool
	FallbackBaseScore int
	Pricing           config.PricingInfo
}

// OptionsFromConfig maps the ai section onto evaluator options.
func OptionsFromConfig(cfg *config.Config) Options {
	ai := cfg.AI
	opts := Options{
		Model:             ai.Model,
		Temperature:       ai.Temperature,
		MaxTokens:         ai.MaxTokens,
		Timeout:           ai.Timeout,
		Retry:             NewRetryStrategy(ai.RetryBackoff, ai.RetryTimes, ai.RetryDelay),
		BatchSize:         ai.BatchSize,
		MaxRequests:       ai.MaxRequests,
		IndividualLimit:   ai.IndividualLimit,
		ScoreThreshold:    ai.ScoreThreshold,
		MinConfidence:     ai.MinConfidence,
		FallbackEnabled:   ai.FallbackEnabled,
		FallbackBaseScore: ai.FallbackBaseScore,
	}
	if byModel, ok := cfg.Pricing[ai.Provider]; ok {
		opts.Pricing = byModel[ai.Model]
	}
	return opts
}

type Metrics struct {
	Requests       int           `json:"requests"`
	Successes      int           `json:"successes"`
	Failures       int           `json:"failures"`
	Fallbacks      int           `json:"fallbacks"`
	CacheHits      int           `json:"cache_hits"`
	TotalLatency   time.Duration `json:"total_latency"`
	AverageLatency time.Duration `json:"average_latency"`
	Cache          *cache.Stats  `json:"cache,omitempty"`
}

// Evaluator scores articles with a chat model. The cache may be nil. It is safe for concurrent use.
type Evaluator struct {
	client   ChatCompleter
	provider Provider
	cache    *cache.Cache
	costs    costtracker.CostTracker
	opts     Options

	mu      sync.Mutex
	metrics Metrics
}

func New(client ChatCompleter, provider Provider, c *cache.Cache, opts Options, costs costtracker.CostTracker) *Evaluator {
	if opts.Retry == nil {
		opts.Retry = &FixedRetryStrategy{MaxAttempts: 2, DelayMs: 1000}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.IndividualLimit <= 0 {
		opts.IndividualLimit = 3
	}
	if costs == nil {
		costs = costtracker.Noop()
	}
	return &Evaluator{client: client, provider: provider, cache: c, costs: costs, opts: opts}
}

func (e *Evaluator) Model() string { return e.opts.Model }

func (e *Evaluator) Provider() string { return e.provider.Name() }

func (e *Evaluator) record(fn func(m *Metrics)) {
	e.mu.Lock()
	fn(&e.metrics)
	e.mu.Unlock()
}

// complete sends one request with retries and returns the raw message content. Each attempt runs
// detached from ctx cancellation, bounded by Timeout; if ctx is cancelled meanwhile the response
// is discarded and ctx.Err() returned.
func (e *Evaluator) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, service string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       e.opts.Model,
		Messages:    msgs,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		start := time.Now()
		resp, err := e.call(ctx, req)
		latency := time.Since(start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		e.record(func(m *Metrics) {
			m.Requests++
			m.TotalLatency += latency
		})

		if err == nil && len(resp.Choices) == 0 {
			err = errors.New("no choices returned")
		}
		if err == nil {
			e.recordUsage(ctx, resp, service)
			return resp.Choices[0].Message.Content, nil
		}

		backoff := e.opts.Retry.NextBackoff(attempt)
		if backoff < 0 {
			return "", &ClientError{Provider: e.provider.Name(), Attempts: attempt + 1, Err: err}
		}
		log.Warnf("AI request to %s failed (attempt %d), retrying in %dms: %v", e.provider.Name(), attempt+1, backoff, err)

		timer := time.NewTimer(time.Duration(backoff) * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
}

func (e *Evaluator) call(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.Timeout)
	defer cancel()
	return e.client.CreateChatCompletion(callCtx, req)
}

func (e *Evaluator) recordUsage(ctx context.Context, resp openai.ChatCompletionResponse, service string) {
	in, out := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	cost := float64(in)*e.opts.Pricing.InputPerToken + float64(out)*e.opts.Pricing.OutputPerToken
	event := costtracker.CostEvent{
		Operation:    service,
		Provider:     e.provider.Name(),
		Model:        e.opts.Model,
		InputTokens:  in,
		OutputTokens: out,
		AmountUSD:    cost,
	}
	if err := e.costs.RecordCost(ctx, event); err != nil {
		log.Warnf("Failed to record AI cost: %v", err)
	}
}

func (e *Evaluator) lookup(a *models.Article) (models.AIEvaluation, bool) {
	if e.cache == nil {
		return models.AIEvaluation{}, false
	}
	v, ok := e.cache.Get(cache.Key(a.Title, a.Summary))
	if ok {
		e.record(func(m *Metrics) { m.CacheHits++ })
	}
	return v, ok
}

func (e *Evaluator) store(a *models.Article, v models.AIEvaluation) {
	if e.cache == nil || v.Degraded || v.Confidence < e.opts.MinConfidence {
		return
	}
	e.cache.Set(cache.Key(a.Title, a.Summary), v)
}

// degrade applies the fallback policy to a failed evaluation.
func (e *Evaluator) degrade(a *models.Article, cause error) (models.AIEvaluation, error) {
	e.record(func(m *Metrics) { m.Failures++ })
	if !e.opts.FallbackEnabled {
		return models.AIEvaluation{}, cause
	}
	e.record(func(m *Metrics) { m.Fallbacks++ })
	log.Warnf("Using fallback evaluation for %q: %v", a.Title, cause)
	return Fallback(a, e.opts.FallbackBaseScore), nil
}

// EvaluateOne evaluates a single article, consulting the cache first. It returns the raw model
// text when a call was made. With fallback enabled, transport and parse failures yield the
// degraded evaluation and a nil error; otherwise they return a *ClientError or *ParseError.
func (e *Evaluator) EvaluateOne(ctx context.Context, a *models.Article) (models.AIEvaluation, string, error) {
	if v, ok := e.lookup(a); ok {
		return v, "", nil
	}
	return e.evaluateFresh(ctx, a)
}

func (e *Evaluator) evaluateFresh(ctx context.Context, a *models.Article) (models.AIEvaluation, string, error) {
	raw, err := e.complete(ctx, e.provider.BuildPrompt([]*models.Article{a}, false), models.ServiceTypeEvaluation)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.AIEvaluation{}, "", ctxErr
		}
		v, err := e.degrade(a, err)
		return v, raw, err
	}

	v, err := parseEvaluation(raw, e.provider)
	if err != nil {
		log.Debugf("Unparsable response for %q: %s", a.Title, raw)
		v, err := e.degrade(a, err)
		return v, raw, err
	}
	e.record(func(m *Metrics) { m.Successes++ })
	e.store(a, v)
	return v, raw, nil
}

type outcome struct {
	eval   models.AIEvaluation
	cached bool
	err    error
}

// EvaluateBatch returns one evaluation per article, in order. Entries that could not be evaluated
// carry the fallback evaluation. The error is ctx.Err() on cancellation; with fallback disabled it
// joins the per-article failures.
func (e *Evaluator) EvaluateBatch(ctx context.Context, articles []*models.Article) ([]models.AIEvaluation, error) {
	outcomes := make([]outcome, len(articles))
	var pending []int
	for i, a := range articles {
		if v, ok := e.lookup(a); ok {
			outcomes[i] = outcome{eval: v, cached: true}
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		chunk := make([]*models.Article, len(pending))
		for j, i := range pending {
			chunk[j] = articles[i]
		}
		fresh, err := e.evaluateUncached(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for j, i := range pending {
			outcomes[i] = fresh[j]
		}
	}

	evals := make([]models.AIEvaluation, len(articles))
	var errs []error
	for i, o := range outcomes {
		if o.err != nil {
			errs = append(errs, fmt.Errorf("article %d: %w", i, o.err))
			evals[i] = Fallback(articles[i], e.opts.FallbackBaseScore)
			continue
		}
		evals[i] = o.eval
	}
	return evals, errors.Join(errs...)
}

// evaluateUncached evaluates articles known to be absent from the cache. Small sets go one by one,
// larger ones in a single batch prompt.
func (e *Evaluator) evaluateUncached(ctx context.Context, articles []*models.Article) ([]outcome, error) {
	out := make([]outcome, len(articles))
	if len(articles) <= e.opts.IndividualLimit {
		for i, a := range articles {
			v, _, err := e.evaluateFresh(ctx, a)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			out[i] = outcome{eval: v, err: err}
		}
		return out, nil
	}

	raw, err := e.complete(ctx, e.provider.BuildPrompt(articles, true), models.ServiceTypeBatchEvaluation)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var parsed *batchParse
	if err == nil {
		parsed, err = parseBatch(raw, e.provider, len(articles))
	}
	if err != nil {
		log.Errorf("Batch AI evaluation of %d articles failed: %v", len(articles), err)
		for i, a := range articles {
			v, derr := e.degrade(a, err)
			out[i] = outcome{eval: v, err: derr}
		}
		return out, nil
	}

	for _, w := range parsed.Warnings {
		log.Warnf("Batch AI response: %s", w)
	}
	for i, a := range articles {
		v, ok := parsed.Entries[i]
		if !ok {
			fv, derr := e.degrade(a, &ParseError{Reason: fmt.Sprintf("no entry for article_index %d", i), Raw: raw})
			out[i] = outcome{eval: fv, err: derr}
			continue
		}
		e.record(func(m *Metrics) { m.Successes++ })
		e.store(a, v)
		out[i] = outcome{eval: v}
	}
	return out, nil
}

// Filter evaluates up to MaxRequests articles in BatchSize groups and keeps those scoring at least
// ScoreThreshold, plus degraded ones, best first. Cached articles are served before any call.
// It fails only on cancellation, or when every evaluation failed with fallback disabled.
func (e *Evaluator) Filter(ctx context.Context, articles []*models.Article) ([]*models.AIFilterResult, error) {
	if e.opts.MaxRequests > 0 && len(articles) > e.opts.MaxRequests {
		log.Infof("AI filter limited to %d of %d articles", e.opts.MaxRequests, len(articles))
		articles = articles[:e.opts.MaxRequests]
	}

	var all []*models.AIFilterResult
	var pending []*models.Article
	for _, a := range articles {
		if v, ok := e.lookup(a); ok {
			all = append(all, &models.AIFilterResult{Article: a, Evaluation: v, Model: e.opts.Model, Cached: true})
			continue
		}
		pending = append(pending, a)
	}

	var failures []error
	for start := 0; start < len(pending); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(pending))
		chunk := pending[start:end]

		began := time.Now()
		outcomes, err := e.evaluateUncached(ctx, chunk)
		if err != nil {
			return nil, err
		}
		perArticle := time.Since(began) / time.Duration(len(chunk))
		for i, o := range outcomes {
			if o.err != nil {
				failures = append(failures, o.err)
				continue
			}
			all = append(all, &models.AIFilterResult{
				Article:        chunk[i],
				Evaluation:     o.eval,
				ProcessingTime: perArticle,
				Model:          e.opts.Model,
			})
		}
	}

	if len(pending) > 0 && len(failures) == len(pending) && len(all) == 0 {
		return nil, fmt.Errorf("all %d AI evaluations failed: %w", len(pending), failures[0])
	}

	kept := all[:0]
	for _, r := range all {
		if r.Evaluation.Degraded || r.Evaluation.TotalScore >= e.opts.ScoreThreshold {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Evaluation.TotalScore > kept[j].Evaluation.TotalScore
	})
	log.Debugf("AI filter kept %d of %d evaluated articles", len(kept), len(all))
	return kept, nil
}

// RequestLimit is the most articles one Filter call evaluates; 0 means unlimited.
func (e *Evaluator) RequestLimit() int { return e.opts.MaxRequests }

func (e *Evaluator) Metrics() Metrics {
	e.mu.Lock()
	m := e.metrics
	e.mu.Unlock()
	if m.Requests > 0 {
		m.AverageLatency = m.TotalLatency / time.Duration(m.Requests)
	}
	if e.cache != nil {
		s := e.cache.Stats()
		m.Cache = &s
	}
	return m
}

func (e *Evaluator) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// CleanupCache removes expired cache entries and returns how many were dropped.
func (e *Evaluator) CleanupCache() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.CleanupExpired()
}
