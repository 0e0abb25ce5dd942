package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"sift/internal/costtracker"
	"sift/internal/models"
	"sift/internal/store"
	"sift/internal/tasks"
)

// BatchRunner runs one batch over source paths. *app.App implements it.
type BatchRunner interface {
	RunBatch(ctx context.Context, paths []string) (*models.BatchFilterResult, error)
}

type BatchRunDeps struct {
	Runner BatchRunner
	Runs   store.RunStore
}

// RegisterHandlers registers every task handler the worker serves.
func RegisterHandlers(mux *asynq.ServeMux, deps BatchRunDeps) {
	log.Infof("Registering %s handler", tasks.TypeBatchRun)
	mux.HandleFunc(tasks.TypeBatchRun, HandleBatchRun(deps))
}

// HandleBatchRun runs a queued batch and stores its result under the queued run ID.
func HandleBatchRun(deps BatchRunDeps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := tasks.ParseBatchRunPayload(t)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger := log.WithField("run_id", p.RunID)
		logger.Infof("Starting queued batch run over %d source paths", len(p.Sources))

		if err := deps.Runs.UpdateRunStatus(ctx, p.RunID, models.RunStatusRunning, ""); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Enqueued without a record; SaveBatchResult creates one.
				logger.Warn("No run record found, continuing")
			} else {
				return fmt.Errorf("failed to mark run %s running: %w", p.RunID, err)
			}
		}

		res, err := deps.Runner.RunBatch(costtracker.WithRunID(ctx, p.RunID), p.Sources)
		if err != nil {
			status := models.RunStatusFailed
			if ctx.Err() != nil {
				status = models.RunStatusCancelled
			}
			if uerr := deps.Runs.UpdateRunStatus(context.WithoutCancel(ctx), p.RunID, status, err.Error()); uerr != nil {
				logger.Errorf("Failed to record run failure: %v", uerr)
			}
			if status == models.RunStatusCancelled {
				return err
			}
			return fmt.Errorf("batch run %s failed: %v: %w", p.RunID, err, asynq.SkipRetry)
		}

		if err := deps.Runs.SaveBatchResult(ctx, res); err != nil {
			return fmt.Errorf("failed to save batch run %s: %w", p.RunID, err)
		}
		logger.Infof("Queued batch run finished: %d/%d sources processed, %d articles selected",
			res.ProcessedSources, res.TotalSources, res.TotalArticlesSelected)
		return nil
	}
}
