package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"sift/internal/models"
)

// --- Job Client ---

type JobClient interface {
	// Enqueue submits a task. runID relates the task to its batch run record.
	Enqueue(ctx context.Context, task *asynq.Task, runID uuid.UUID, opts ...asynq.Option) (*asynq.TaskInfo, error)
	EnqueueBatchRun(ctx context.Context, sources []string) (*models.BatchRun, error)
	Close() error
}

// --- Run Store ---

type RunStore interface {
	CreateRun(ctx context.Context, run *models.BatchRun) error
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, errMsg string) error
	// SaveBatchResult stores the outcome of a finished run, its per-source rows and its exported
	// report, and marks the run completed.
	SaveBatchResult(ctx context.Context, res *models.BatchFilterResult) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.BatchRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*models.BatchRun, error)
	ListRunSources(ctx context.Context, id uuid.UUID) ([]*models.RunSource, error)
}

// --- Cost Tracking Store ---

type CostTrackingStore interface {
	RecordUsage(ctx context.Context, log *models.AIUsageLog) error
	ListUsage(ctx context.Context, limit, offset int) ([]*models.AIUsageLog, error)
	GetUsageSummary(ctx context.Context) (totalCost float64, totalInputTokens, totalOutputTokens int64, err error)
	GetRunCost(ctx context.Context, runID uuid.UUID) (float64, error)
}
