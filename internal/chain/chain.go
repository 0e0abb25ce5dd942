package chain

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"sift/internal/config"
	"sift/internal/models"
	"sift/internal/selection"
	"sift/internal/tagging"
)

const (
	ReasonKeywordMatches   = "too few keyword matches"
	ReasonKeywordThreshold = "keyword relevance below threshold"
	ReasonKeywordLimit     = "keyword result limit reached"
	ReasonNoAIResult       = "no AI result"
	ReasonFinalScore       = "final score below threshold"
	ReasonResultLimit      = "final result limit reached"

	SortByFinalScore = "final_score"
	SortByRelevance  = "relevance"
	SortByTimestamp  = "timestamp"
)

// KeywordScorer is the keyword stage. *keyword.Scorer implements it.
type KeywordScorer interface {
	Score(a *models.Article) *models.KeywordFilterResult
	Qualifies(r *models.KeywordFilterResult) bool
}

// AIFilter is the AI stage. *evaluator.Evaluator implements it.
type AIFilter interface {
	Filter(ctx context.Context, articles []*models.Article) ([]*models.AIFilterResult, error)
}

// RequestLimiter is implemented by AI filters that evaluate at most RequestLimit articles per
// Filter call. The chain applies the limit once per source, before splitting into AIBatchSize calls.
type RequestLimiter interface {
	RequestLimit() int
}

type Options struct {
	KeywordThreshold    float64
	MaxKeywordResults   int
	MaxAIRequests       int
	FinalScoreThreshold float64
	KeywordWeight       float64
	AIWeight            float64
	MaxFinalResults     int
	FailFast            bool
	BatchSize           int // keyword progress granularity
	AIBatchSize         int // articles per AI stage call
	SortBy              string
	IncludeRejected     bool
}

func DefaultOptions() Options {
	return Options{
		KeywordThreshold:    0.6,
		MaxKeywordResults:   100,
		MaxAIRequests:       50,
		FinalScoreThreshold: 0.7,
		KeywordWeight:       0.3,
		AIWeight:            0.7,
		MaxFinalResults:     30,
		BatchSize:           10,
		AIBatchSize:         10,
		SortBy:              SortByFinalScore,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	c := cfg.Chain
	opts := Options{
		KeywordThreshold:    c.KeywordThreshold,
		MaxKeywordResults:   c.MaxKeywordResults,
		MaxAIRequests:       c.MaxAIRequests,
		FinalScoreThreshold: c.FinalScoreThreshold,
		KeywordWeight:       c.KeywordWeight,
		AIWeight:            c.AIWeight,
		MaxFinalResults:     c.MaxFinalResults,
		FailFast:            c.FailFast,
		BatchSize:           c.BatchSize,
		SortBy:              c.SortBy,
		IncludeRejected:     c.IncludeRejected,
	}
	return opts
}

// Chain runs keyword scoring, AI evaluation, tagging and balanced selection over one source's
// articles. A Chain holds no per-run state and may be shared by concurrent Process calls when its
// selector is nil; a selector's tracker is per chain, so concurrent sources need one chain each.
type Chain struct {
	scorer    KeywordScorer
	ai        AIFilter
	generator *tagging.Generator
	selector  *selection.Selector
	analyzer  *tagging.Analyzer
	opts      Options
}

// New builds a chain. A nil scorer lets every article through the keyword stage unscored, a nil ai
// disables the AI stage, a nil generator disables tagging and a nil selector disables balanced
// selection.
func New(scorer KeywordScorer, ai AIFilter, generator *tagging.Generator, selector *selection.Selector, analyzer *tagging.Analyzer, opts Options) *Chain {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.AIBatchSize <= 0 {
		opts.AIBatchSize = def.AIBatchSize
	}
	if opts.SortBy == "" {
		opts.SortBy = def.SortBy
	}
	return &Chain{scorer: scorer, ai: ai, generator: generator, selector: selector, analyzer: analyzer, opts: opts}
}

func (c *Chain) Options() Options { return c.opts }

// run is the per-call working state.
type run struct {
	ctx      context.Context
	result   *models.FilterChainResult
	obs      Observer
	logger   *log.Entry
	scored   []*models.KeywordFilterResult
	passed   []*models.KeywordFilterResult
	aiByKey  map[string]*models.AIFilterResult
	aiRan    bool
	combined []*models.CombinedFilterResult
}

// Process never returns nil. Failures are recorded on the result; Stage is StageFailed only when
// the keyword stage itself fails.
func (c *Chain) Process(ctx context.Context, sourceID string, articles []*models.Article, obs Observer) *models.FilterChainResult {
	if obs == nil {
		obs = NopObserver{}
	}
	r := &run{
		ctx: ctx,
		result: &models.FilterChainResult{
			SourceID:      sourceID,
			TotalArticles: len(articles),
			StartedAt:     time.Now(),
			Stage:         models.StagePending,
		},
		obs:    obs,
		logger: log.WithField("source", sourceID),
	}
	obs.OnStart(sourceID, len(articles))

	defer func() {
		r.result.FinishedAt = time.Now()
		r.result.TotalProcessingTime = r.result.FinishedAt.Sub(r.result.StartedAt)
		obs.OnComplete(r.result)
	}()

	if err := c.keywordStage(r, articles); err != nil {
		r.result.Stage = models.StageFailed
		r.result.AddError("keyword stage failed: %v", err)
		obs.OnError(err)
		return r.result
	}
	c.aiStage(r)
	if err := ctx.Err(); err != nil && c.ai != nil && len(r.passed) > 0 {
		r.result.AddWarning("processing cancelled during the AI stage: %v", err)
	}
	c.taggingStage(r)
	c.selectingStage(r)
	r.result.Stage = models.StageDone
	return r.result
}

func (c *Chain) scoreSafely(a *models.Article) (res *models.KeywordFilterResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scoring %q panicked: %v", a.Title, p)
		}
	}()
	if c.scorer == nil {
		return &models.KeywordFilterResult{Article: a, CategoryScores: map[string]float64{}}, nil
	}
	res = c.scorer.Score(a)
	if res == nil {
		return nil, fmt.Errorf("scoring %q returned no result", a.Title)
	}
	return res, nil
}

func (c *Chain) keywordPasses(kr *models.KeywordFilterResult) bool {
	if c.scorer == nil {
		return true
	}
	return c.scorer.Qualifies(kr) && kr.RelevanceScore >= c.opts.KeywordThreshold
}

func (c *Chain) keywordStage(r *run, articles []*models.Article) error {
	r.result.Stage = models.StageKeywordFiltering
	start := time.Now()
	defer func() { r.result.KeywordFilterTime = time.Since(start) }()

	for i := 0; i < len(articles); i += c.opts.BatchSize {
		end := min(i+c.opts.BatchSize, len(articles))
		for _, a := range articles[i:end] {
			kr, err := c.scoreSafely(a)
			if err != nil {
				if c.opts.FailFast {
					return err
				}
				r.logger.Warnf("Dropping article from keyword stage: %v", err)
				r.result.AddWarning("keyword scoring dropped article: %v", err)
				continue
			}
			r.scored = append(r.scored, kr)
			if c.keywordPasses(kr) {
				r.passed = append(r.passed, kr)
			}
		}
		r.obs.OnKeywordProgress(end, len(articles))
	}

	sort.SliceStable(r.passed, func(i, j int) bool {
		return r.passed[i].RelevanceScore > r.passed[j].RelevanceScore
	})
	if c.opts.MaxKeywordResults > 0 && len(r.passed) > c.opts.MaxKeywordResults {
		r.passed = r.passed[:c.opts.MaxKeywordResults]
	}
	r.result.KeywordFilteredCount = len(r.passed)
	r.logger.Infof("Keyword stage: %d of %d articles passed", len(r.passed), len(articles))
	r.obs.OnKeywordComplete(len(r.passed))
	return nil
}

func (c *Chain) callAI(ctx context.Context, batch []*models.Article) (res []*models.AIFilterResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("AI filter panicked: %v", p)
		}
	}()
	return c.ai.Filter(ctx, batch)
}

// aiLimit is the smaller of MaxAIRequests and the filter's own request limit; 0 means unlimited.
func (c *Chain) aiLimit() int {
	limit := c.opts.MaxAIRequests
	if l, ok := c.ai.(RequestLimiter); ok {
		if n := l.RequestLimit(); n > 0 && (limit <= 0 || n < limit) {
			limit = n
		}
	}
	return limit
}

func (c *Chain) aiStage(r *run) {
	if c.ai == nil || len(r.passed) == 0 {
		return
	}
	r.result.Stage = models.StageAIFiltering
	start := time.Now()
	defer func() { r.result.AIFilterTime = time.Since(start) }()

	// passed is already sorted by keyword relevance.
	candidates := r.passed
	if limit := c.aiLimit(); limit > 0 && len(candidates) > limit {
		r.result.AddWarning("AI stage limited to the top %d of %d keyword results", limit, len(candidates))
		candidates = candidates[:limit]
	}
	articles := make([]*models.Article, len(candidates))
	for i, kr := range candidates {
		articles[i] = kr.Article
	}

	var results []*models.AIFilterResult
	for i := 0; i < len(articles); i += c.opts.AIBatchSize {
		end := min(i+c.opts.AIBatchSize, len(articles))
		batch, err := c.callAI(r.ctx, articles[i:end])
		if err != nil {
			r.result.AddError("AI stage failed: %v", err)
			r.logger.Errorf("AI stage failed, continuing keyword-only: %v", err)
			r.obs.OnError(err)
			return
		}
		results = append(results, batch...)
		r.obs.OnAIProgress(end, len(articles))
	}

	r.aiRan = true
	r.aiByKey = make(map[string]*models.AIFilterResult, len(results))
	degraded := 0
	for _, ar := range results {
		if ar.Evaluation.Degraded {
			degraded++
		}
		r.aiByKey[ar.Article.Key()] = ar
	}
	if degraded > 0 {
		r.result.AddWarning("%d AI evaluations are degraded fallbacks", degraded)
	}
	r.result.AIFilteredCount = len(results)
	r.logger.Infof("AI stage: %d of %d articles passed", len(results), len(articles))
	r.obs.OnAIComplete(len(results))
}

// finalScore blends keyword relevance with the normalised AI total. Degraded evaluations carry no
// signal, so those articles keep their keyword score.
func (c *Chain) finalScore(kr *models.KeywordFilterResult, ar *models.AIFilterResult) float64 {
	if ar == nil || ar.Evaluation.Degraded {
		return kr.RelevanceScore
	}
	ai := float64(ar.Evaluation.TotalScore) / float64(models.MaxTotalScore)
	if c.scorer == nil {
		return ai
	}
	return kr.RelevanceScore*c.opts.KeywordWeight + ai*c.opts.AIWeight
}

func (c *Chain) taggingStage(r *run) {
	r.result.Stage = models.StageTagging
	start := time.Now()
	defer func() { r.result.TaggingTime = time.Since(start) }()

	passed := make(map[*models.KeywordFilterResult]bool, len(r.passed))
	for _, kr := range r.passed {
		passed[kr] = true
	}

	for _, kr := range r.scored {
		var ar *models.AIFilterResult
		if r.aiRan {
			ar = r.aiByKey[kr.Article.Key()]
		}
		cr := &models.CombinedFilterResult{
			Article:       kr.Article,
			KeywordResult: kr,
			AIResult:      ar,
			FinalScore:    c.finalScore(kr, ar),
		}
		switch {
		case !passed[kr] && c.scorer != nil && !c.scorer.Qualifies(kr):
			cr.Reject(ReasonKeywordMatches)
		case !passed[kr] && !c.keywordPasses(kr):
			cr.Reject(ReasonKeywordThreshold)
		case !passed[kr]:
			cr.Reject(ReasonKeywordLimit)
		case r.aiRan && ar == nil:
			cr.Reject(ReasonNoAIResult)
		case cr.FinalScore < c.opts.FinalScoreThreshold:
			cr.Reject(ReasonFinalScore)
		default:
			cr.Accept()
		}

		if c.generator != nil {
			kr.Tags = c.generator.FromKeywordResult(kr)
			cr.Tags = c.generator.EnhanceWithAI(kr.Tags, ar)
		}
		r.combined = append(r.combined, cr)
		r.logger.Debugf("%q: final %.3f selected=%t %s", kr.Article.Title, cr.FinalScore, cr.Selected, cr.RejectionReason)
	}
}

func (c *Chain) selectingStage(r *run) {
	r.result.Stage = models.StageSelecting
	start := time.Now()
	defer func() { r.result.SelectionTime = time.Since(start) }()

	if c.selector != nil {
		c.selector.Select(r.combined, c.opts.MaxFinalResults)
	}

	var selected, rejected []*models.CombinedFilterResult
	for _, cr := range r.combined {
		if cr.Selected {
			selected = append(selected, cr)
		} else {
			rejected = append(rejected, cr)
		}
	}
	sortResults(selected, c.opts.SortBy)
	if c.opts.MaxFinalResults > 0 && len(selected) > c.opts.MaxFinalResults {
		for _, cr := range selected[c.opts.MaxFinalResults:] {
			cr.Reject(ReasonResultLimit)
			rejected = append(rejected, cr)
		}
		selected = selected[:c.opts.MaxFinalResults]
	}

	r.result.Selected = selected
	r.result.FinalSelectedCount = len(selected)
	if c.opts.IncludeRejected {
		r.result.Rejected = rejected
	}
	if c.analyzer != nil {
		r.result.TagStatistics = c.analyzer.Analyze(selected)
	}
	r.logger.Infof("Selected %d of %d articles", len(selected), len(r.combined))
}

func sortResults(rs []*models.CombinedFilterResult, by string) {
	var less func(a, b *models.CombinedFilterResult) bool
	switch by {
	case SortByRelevance:
		less = func(a, b *models.CombinedFilterResult) bool {
			return relevance(a) > relevance(b)
		}
	case SortByTimestamp:
		less = func(a, b *models.CombinedFilterResult) bool {
			return a.Article.PublishedAt.After(b.Article.PublishedAt)
		}
	default:
		less = func(a, b *models.CombinedFilterResult) bool { return a.FinalScore > b.FinalScore }
	}
	sort.SliceStable(rs, func(i, j int) bool { return less(rs[i], rs[j]) })
}

func relevance(r *models.CombinedFilterResult) float64 {
	if r.KeywordResult == nil {
		return 0
	}
	return r.KeywordResult.RelevanceScore
}
