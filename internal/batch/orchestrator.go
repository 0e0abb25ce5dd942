package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sift/internal/chain"
	"sift/internal/config"
	"sift/internal/costtracker"
	"sift/internal/models"
)

const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"

	reasonBatchMinScore = "below batch minimum score"
	reasonSourceLimit   = "per-source result limit reached"
)

// Processor runs the filter chain over one source's articles. *chain.Chain implements it.
type Processor interface {
	Process(ctx context.Context, sourceID string, articles []*models.Article, obs chain.Observer) *models.FilterChainResult
}

// ProcessorFactory returns a processor for one source. Balanced selection keeps per-call quota
// state, so concurrent sources each get their own.
type ProcessorFactory func() (Processor, error)

type Options struct {
	Mode                string
	Workers             int
	MaxSources          int
	SourceKeywords      []string
	MinScoreThreshold   float64
	MaxResultsPerSource int
	IncludeRejected     bool // keep post-filter rejections, as chain.include_rejected does
}

func DefaultOptions() Options {
	return Options{Mode: ModeParallel, Workers: 3}
}

func OptionsFromConfig(cfg *config.Config) Options {
	b := cfg.Batch
	return Options{
		Mode:                b.Mode,
		Workers:             b.Workers,
		MaxSources:          b.MaxSources,
		SourceKeywords:      b.SourceKeywords,
		MinScoreThreshold:   b.MinScoreThreshold,
		MaxResultsPerSource: b.MaxResultsPerSource,
		IncludeRejected:     cfg.Chain.IncludeRejected,
	}
}

// Callback receives batch progress. The orchestrator serialises every call, so implementations
// need no locking of their own.
type Callback interface {
	OnBatchStart(runID uuid.UUID, total int)
	OnSourceStart(src Source, index, total int)
	OnSourceFetched(src Source, count int)
	OnSourceComplete(res *models.SubscriptionFilterResult, done, total int)
	OnBatchComplete(res *models.BatchFilterResult)
}

type NopCallback struct{}

func (NopCallback) OnBatchStart(uuid.UUID, int)                                 {}
func (NopCallback) OnSourceStart(Source, int, int)                              {}
func (NopCallback) OnSourceFetched(Source, int)                                 {}
func (NopCallback) OnSourceComplete(*models.SubscriptionFilterResult, int, int) {}
func (NopCallback) OnBatchComplete(*models.BatchFilterResult)                   {}

// LogCallback reports batch progress through logrus.
type LogCallback struct{}

func (LogCallback) OnBatchStart(runID uuid.UUID, total int) {
	log.WithField("run_id", runID).Infof("Starting batch over %d sources", total)
}

func (LogCallback) OnSourceStart(src Source, index, total int) {
	log.Infof("[%d/%d] Processing source %s", index+1, total, src.Title())
}

func (LogCallback) OnSourceFetched(src Source, count int) {
	log.Debugf("Fetched %d articles from %s", count, src.Title())
}

func (LogCallback) OnSourceComplete(res *models.SubscriptionFilterResult, done, total int) {
	if res.Failed() {
		log.Warnf("[%d/%d] Source %s failed: %s", done, total, res.SourceTitle, res.Error)
		return
	}
	log.Infof("[%d/%d] Source %s: %d of %d articles selected", done, total, res.SourceTitle, res.SelectedCount(), res.ArticlesFetched)
}

func (LogCallback) OnBatchComplete(res *models.BatchFilterResult) {
	log.WithField("run_id", res.RunID).Infof("Batch finished: %d/%d sources processed, %d articles selected in %s",
		res.ProcessedSources, res.TotalSources, res.TotalArticlesSelected, res.TotalProcessingTime())
}

type Orchestrator struct {
	factory ProcessorFactory
	opts    Options
}

func NewOrchestrator(factory ProcessorFactory, opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = ModeParallel
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	return &Orchestrator{factory: factory, opts: opts}
}

// serialCallback guards a Callback with one mutex and tracks completions.
type serialCallback struct {
	mu    sync.Mutex
	cb    Callback
	done  int
	total int
}

func (s *serialCallback) start(src Source, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.OnSourceStart(src, index, s.total)
}

func (s *serialCallback) fetched(src Source, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.OnSourceFetched(src, n)
}

func (s *serialCallback) complete(res *models.SubscriptionFilterResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	s.cb.OnSourceComplete(res, s.done, s.total)
}

// Run filters every selected source and always returns a complete result. Per-source results keep
// submission order whatever order sources finish in.
func (o *Orchestrator) Run(ctx context.Context, sources []Source, cb Callback) *models.BatchFilterResult {
	if cb == nil {
		cb = NopCallback{}
	}
	runID, ok := costtracker.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.New()
		ctx = costtracker.WithRunID(ctx, runID)
	}

	selected := o.selectSources(sources)
	res := &models.BatchFilterResult{
		RunID:        runID,
		TotalSources: len(selected),
		Sources:      make([]*models.SubscriptionFilterResult, len(selected)),
		StartedAt:    time.Now(),
	}
	if skipped := len(sources) - len(selected); skipped > 0 {
		log.Debugf("Batch %s: %d sources filtered out", runID, skipped)
	}
	cb.OnBatchStart(runID, len(selected))
	sc := &serialCallback{cb: cb, total: len(selected)}

	if o.opts.Mode == ModeSequential {
		for i, src := range selected {
			res.Sources[i] = o.runSource(ctx, runID, i, src, sc)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(o.opts.Workers)
		for i, src := range selected {
			i, src := i, src
			g.Go(func() error {
				res.Sources[i] = o.runSource(ctx, runID, i, src, sc)
				return nil
			})
		}
		_ = g.Wait()
	}

	aggregate(res)
	res.FinishedAt = time.Now()
	cb.OnBatchComplete(res)
	return res
}

func (o *Orchestrator) selectSources(sources []Source) []Source {
	var out []Source
	for _, s := range sources {
		if len(o.opts.SourceKeywords) > 0 && !titleMatches(s.Title(), o.opts.SourceKeywords) {
			continue
		}
		out = append(out, s)
	}
	if o.opts.MaxSources > 0 && len(out) > o.opts.MaxSources {
		out = out[:o.opts.MaxSources]
	}
	return out
}

func titleMatches(title string, keywords []string) bool {
	t := strings.ToLower(title)
	for _, k := range keywords {
		if strings.Contains(t, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// runSource handles one source end to end and reports it exactly once.
func (o *Orchestrator) runSource(ctx context.Context, runID uuid.UUID, index int, src Source, sc *serialCallback) (sub *models.SubscriptionFilterResult) {
	sub = &models.SubscriptionFilterResult{SourceID: src.ID(), SourceTitle: src.Title()}
	defer func() {
		if p := recover(); p != nil {
			sub.Error = fmt.Sprintf("panic while processing source: %v", p)
		}
		sc.complete(sub)
	}()

	if err := ctx.Err(); err != nil {
		sub.Error = fmt.Sprintf("skipped: %v", err)
		return sub
	}
	sc.start(src, index)

	fetchStart := time.Now()
	articles, err := src.Fetch(ctx)
	sub.FetchTime = time.Since(fetchStart)
	if err != nil {
		sub.Error = fmt.Sprintf("fetch failed: %v", err)
		return sub
	}
	sub.ArticlesFetched = len(articles)
	sc.fetched(src, len(articles))

	proc, err := o.factory()
	if err != nil {
		sub.Error = fmt.Sprintf("failed to build filter chain: %v", err)
		return sub
	}
	obs := chain.NewLogObserver(log.Fields{"run_id": runID, "source": src.ID()})
	result := proc.Process(ctx, src.ID(), articles, obs)
	o.applyPostFilters(result)
	sub.Result = result
	switch {
	case result.Stage == models.StageFailed:
		sub.Error = "filter chain failed: " + strings.Join(result.Errors, "; ")
	case ctx.Err() != nil:
		sub.Error = fmt.Sprintf("cancelled: %v", ctx.Err())
	}
	return sub
}

func (o *Orchestrator) applyPostFilters(r *models.FilterChainResult) {
	if len(r.Selected) == 0 {
		return
	}
	kept := r.Selected[:0]
	for _, cr := range r.Selected {
		if o.opts.MinScoreThreshold > 0 && cr.FinalScore < o.opts.MinScoreThreshold {
			cr.Reject(reasonBatchMinScore)
			o.keepRejected(r, cr)
			continue
		}
		kept = append(kept, cr)
	}
	if n := o.opts.MaxResultsPerSource; n > 0 && len(kept) > n {
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].FinalScore > kept[j].FinalScore })
		for _, cr := range kept[n:] {
			cr.Reject(reasonSourceLimit)
			o.keepRejected(r, cr)
		}
		kept = kept[:n]
	}
	r.Selected = kept
	r.FinalSelectedCount = len(kept)
}

func (o *Orchestrator) keepRejected(r *models.FilterChainResult, cr *models.CombinedFilterResult) {
	if o.opts.IncludeRejected {
		r.Rejected = append(r.Rejected, cr)
	}
}

func aggregate(res *models.BatchFilterResult) {
	for _, s := range res.Sources {
		if s.Failed() {
			res.FailedSources++
			res.AddWarning("source %s failed: %s", s.SourceTitle, failureReason(s))
		} else {
			res.ProcessedSources++
		}
		res.TotalArticlesFetched += s.ArticlesFetched
		res.TotalArticlesSelected += s.SelectedCount()
		res.TotalFetchTime += s.FetchTime
		if s.Result != nil {
			res.TotalFilterTime += s.Result.TotalProcessingTime
			for _, e := range s.Result.Errors {
				res.AddError("%s: %s", s.SourceTitle, e)
			}
		}
	}
}

func failureReason(s *models.SubscriptionFilterResult) string {
	if s.Error != "" {
		return s.Error
	}
	return "no result"
}
