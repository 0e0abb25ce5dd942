package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"sift/internal/batch"
	"sift/internal/cache"
	"sift/internal/chain"
	"sift/internal/config"
	"sift/internal/costtracker"
	"sift/internal/evaluator"
	"sift/internal/keyword"
	"sift/internal/models"
	"sift/internal/selection"
	"sift/internal/store"
	"sift/internal/store/primary"
	"sift/internal/tagging"
)

// Options selects the optional backends a command needs.
type Options struct {
	// Database opens the Postgres store when database.dsn is set. Required fails when it is not.
	Database         bool
	DatabaseRequired bool
	// Queue creates the Asynq job client. It needs the database.
	Queue bool
}

type App struct {
	Config *config.Config

	Cache      *cache.Cache // nil when cache.enabled is false
	CacheStore *cache.SQLiteStore

	Completer   evaluator.ChatCompleter
	Evaluator   *evaluator.Evaluator
	Scorer      *keyword.Scorer
	Generator   *tagging.Generator
	Analyzer    *tagging.Analyzer
	CostTracker *costtracker.Tracker

	Store     *primary.StoreImpl
	RunStore  store.RunStore
	CostStore store.CostTrackingStore
	JobClient store.JobClient

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg}

	if opts.Database || opts.Queue {
		if err := app.initPrimaryStore(ctx, opts.DatabaseRequired || opts.Queue); err != nil {
			app.Close()
			return nil, err
		}
	}
	if opts.Queue {
		if err := app.EnableQueue(); err != nil {
			app.Close()
			return nil, err
		}
	}
	app.initCostTracker()
	if err := app.initCache(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initScorer(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initEvaluator(ctx); err != nil {
		app.Close()
		return nil, err
	}
	app.initTagging()

	log.Debug("Application initialization complete.")
	return app, nil
}

// --- Private Helper Methods ---

func (a *App) initPrimaryStore(ctx context.Context, required bool) error {
	if a.Config.Database.DSN == "" {
		if required {
			return a.Config.ValidateDatabase()
		}
		log.Debug("database.dsn not set, run history and cost logs are not persisted")
		return nil
	}
	ps, err := primary.NewPrimaryStore(ctx, a.Config.Database.DSN)
	if err != nil {
		return fmt.Errorf("init primary store: %w", err)
	}
	a.Store = ps
	a.RunStore = ps
	a.CostStore = ps
	a.closers = append(a.closers, func() error { ps.Close(); return nil })
	return nil
}

// EnableQueue creates the Asynq job client. Queued runs are recorded in the run store, so the
// database must be open.
func (a *App) EnableQueue() error {
	if a.JobClient != nil {
		return nil
	}
	if a.RunStore == nil {
		return fmt.Errorf("%w: the batch queue needs database.dsn", config.ErrInvalidConfig)
	}
	if err := a.Config.ValidateQueue(); err != nil {
		return err
	}
	jc, err := store.NewAsynqJobClient(a.RedisOpt(), a.RunStore)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	a.JobClient = jc
	a.closers = append(a.closers, jc.Close)
	return nil
}

// RedisOpt returns the connection options for the configured Redis.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	r := a.Config.Redis
	return asynq.RedisClientOpt{Addr: r.Address, Password: r.Password, DB: r.DB}
}

func (a *App) initCostTracker() {
	if a.Store != nil {
		a.CostTracker = costtracker.NewWithRecorder(a.Store)
		return
	}
	a.CostTracker = costtracker.New()
}

func (a *App) initCache(ctx context.Context) error {
	cc := a.Config.Cache
	if !cc.Enabled {
		return nil
	}
	a.Cache = cache.New(cc.TTL, cc.MaxSize)
	if cc.Path == "" {
		return nil
	}
	cs, err := cache.OpenSQLite(cc.Path)
	if err != nil {
		return fmt.Errorf("init cache store: %w", err)
	}
	a.CacheStore = cs
	a.closers = append(a.closers, cs.Close)
	n, err := cs.Load(ctx, a.Cache)
	if err != nil {
		log.Warnf("Failed to load persisted evaluation cache: %v", err)
		return nil
	}
	log.Debugf("Loaded %d cached evaluations from %s", n, cc.Path)
	return nil
}

func (a *App) initScorer() error {
	cats, opts := keyword.FromConfig(a.Config)
	if len(cats) == 0 && !a.Config.Chain.EnableKeywordFilter {
		return nil
	}
	scorer, err := keyword.NewScorer(cats, opts)
	if err != nil {
		return fmt.Errorf("init keyword scorer: %w", err)
	}
	a.Scorer = scorer
	return nil
}

func (a *App) initEvaluator(ctx context.Context) error {
	cfg := a.Config
	if !cfg.Chain.EnableAIFilter {
		log.Debug("AI filter disabled, skipping evaluator initialization")
		return nil
	}
	overrides, err := loadPrompts(cfg)
	if err != nil {
		return err
	}
	provider, err := evaluator.NewProvider(cfg.AI.Provider, overrides)
	if err != nil {
		return fmt.Errorf("init prompt provider: %w", err)
	}
	completer, closeFn, err := evaluator.NewCompleter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init AI client: %w", err)
	}
	a.closers = append(a.closers, closeFn)
	a.Completer = completer
	a.Evaluator = evaluator.New(completer, provider, a.Cache, evaluator.OptionsFromConfig(cfg), a.CostTracker)
	log.Debugf("Initialized %s evaluator (model %s)", cfg.AI.Provider, cfg.AI.Model)
	return nil
}

// loadPrompts reads the configured prompt template files. Unset paths keep the built-in templates.
func loadPrompts(cfg *config.Config) (evaluator.PromptOverrides, error) {
	var o evaluator.PromptOverrides
	var err error
	if o.System, err = config.LoadPromptContent(cfg.AI.SystemPrompt, ""); err != nil {
		return o, fmt.Errorf("load system prompt: %w", err)
	}
	if o.Single, err = config.LoadPromptContent(cfg.AI.Prompt, ""); err != nil {
		return o, fmt.Errorf("load evaluation prompt: %w", err)
	}
	if o.Batch, err = config.LoadPromptContent(cfg.AI.BatchPrompt, ""); err != nil {
		return o, fmt.Errorf("load batch prompt: %w", err)
	}
	return o, nil
}

func (a *App) initTagging() {
	if a.Config.Tags.EnableGeneration {
		a.Generator = tagging.NewGenerator(tagging.OptionsFromConfig(a.Config))
	}
	limits := make(map[string]int, len(a.Config.Tags.Limits))
	for name, l := range a.Config.Tags.Limits {
		limits[name] = l.MaxCount
	}
	a.Analyzer = tagging.NewAnalyzer(limits)
}

// NewSelector returns a balanced selector with a fresh quota tracker, or nil when balanced
// selection is off.
func (a *App) NewSelector() (*selection.Selector, error) {
	cfg := a.Config
	if !cfg.Selection.Enabled || !cfg.Tags.EnableLimits || a.Generator == nil {
		return nil, nil
	}
	tracker, err := selection.NewTracker(selection.LimitsFromConfig(cfg), cfg.Tags.PrimaryTagThreshold)
	if err != nil {
		return nil, fmt.Errorf("init tag quota tracker: %w", err)
	}
	return selection.NewSelector(tracker, selection.StrategyFromConfig(cfg)), nil
}

// NewChain builds a filter chain with its own selector. Stages disabled in config are left out.
func (a *App) NewChain() (*chain.Chain, error) {
	sel, err := a.NewSelector()
	if err != nil {
		return nil, err
	}
	var scorer chain.KeywordScorer
	if a.Config.Chain.EnableKeywordFilter {
		scorer = a.Scorer
	}
	var ai chain.AIFilter
	if a.Evaluator != nil {
		ai = a.Evaluator
	}
	return chain.New(scorer, ai, a.Generator, sel, a.Analyzer, chain.OptionsFromConfig(a.Config)), nil
}

func (a *App) NewOrchestrator() *batch.Orchestrator {
	return batch.NewOrchestrator(func() (batch.Processor, error) {
		c, err := a.NewChain()
		if err != nil {
			return nil, err
		}
		return c, nil
	}, batch.OptionsFromConfig(a.Config))
}

// RunBatch loads sources from paths and runs one batch over them.
func (a *App) RunBatch(ctx context.Context, paths []string) (*models.BatchFilterResult, error) {
	sources, err := batch.LoadSources(paths...)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources found in %v", paths)
	}
	res := a.NewOrchestrator().Run(ctx, sources, batch.LogCallback{})
	if err := a.SaveCache(ctx); err != nil {
		log.Warnf("Failed to persist evaluation cache: %v", err)
	}
	return res, nil
}

// SaveCache writes the evaluation cache to its sqlite file when one is configured.
func (a *App) SaveCache(ctx context.Context) error {
	if a.CacheStore == nil || a.Cache == nil {
		return nil
	}
	return a.CacheStore.Save(ctx, a.Cache)
}

// Close releases every backend in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warnf("Error during shutdown: %v", err)
		}
	}
	a.closers = nil
}
