package costtracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"sift/internal/models"
)

// CostEvent represents a single AI usage event and its cost.
type CostEvent struct {
	Operation    string // models.ServiceTypeEvaluation or models.ServiceTypeBatchEvaluation
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	AmountUSD    float64
}

// CostTracker provides methods to record and report costs.
type CostTracker interface {
	RecordCost(ctx context.Context, event CostEvent) error
	TotalCost(ctx context.Context) (float64, error)
}

type runIDKey struct{}

// WithRunID attaches a batch run ID so recorded usage can be related to the run.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	return id, ok
}

// UsageRecorder persists individual usage rows. The primary store implements it.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, usage *models.AIUsageLog) error
}

// Tracker accumulates costs in memory and optionally forwards each event to a UsageRecorder.
type Tracker struct {
	mu       sync.Mutex
	total    float64
	byOp     map[string]float64
	events   int
	recorder UsageRecorder
}

// New returns an in-memory tracker.
func New() *Tracker {
	return &Tracker{byOp: make(map[string]float64)}
}

// NewWithRecorder returns a tracker that also writes every event through rec.
func NewWithRecorder(rec UsageRecorder) *Tracker {
	t := New()
	t.recorder = rec
	return t
}

func (t *Tracker) RecordCost(ctx context.Context, event CostEvent) error {
	t.mu.Lock()
	t.total += event.AmountUSD
	t.byOp[event.Operation] += event.AmountUSD
	t.events++
	t.mu.Unlock()

	if t.recorder == nil {
		return nil
	}
	usage := &models.AIUsageLog{
		Timestamp:    time.Now(),
		ProviderName: event.Provider,
		ServiceType:  event.Operation,
		ModelName:    event.Model,
		InputTokens:  event.InputTokens,
		OutputTokens: event.OutputTokens,
		Cost:         event.AmountUSD,
	}
	if id, ok := RunIDFromContext(ctx); ok {
		usage.RelatedRunID = &id
	}
	if err := t.recorder.RecordUsage(ctx, usage); err != nil {
		log.Errorf("Failed to record AI usage for %s/%s: %v", event.Provider, event.Model, err)
		return err
	}
	log.Debugf("Recorded AI usage: %s %s, in=%d, out=%d, cost=%.6f", event.Provider, event.Model, event.InputTokens, event.OutputTokens, event.AmountUSD)
	return nil
}

func (t *Tracker) TotalCost(ctx context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, nil
}

// Breakdown returns accumulated cost per operation and the number of recorded events.
func (t *Tracker) Breakdown() (map[string]float64, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.byOp))
	for k, v := range t.byOp {
		out[k] = v
	}
	return out, t.events
}

// Noop returns a tracker that discards every event.
func Noop() CostTracker {
	return &noopCostTracker{}
}

type noopCostTracker struct{}

func (n *noopCostTracker) RecordCost(ctx context.Context, event CostEvent) error { return nil }
func (n *noopCostTracker) TotalCost(ctx context.Context) (float64, error)        { return 0, nil }
