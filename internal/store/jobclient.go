package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"sift/internal/models"
	"sift/internal/tasks"
)

// batchRunTimeout bounds one queued batch run on the worker.
const batchRunTimeout = 30 * time.Minute

var _ JobClient = (*AsynqJobClient)(nil)

// AsynqJobClient enqueues batch runs and keeps their run records in the RunStore.
type AsynqJobClient struct {
	client enqueuer
	runs   RunStore
}

// enqueuer is the part of *asynq.Client the job client uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

func NewAsynqJobClient(redis asynq.RedisClientOpt, runs RunStore) (*AsynqJobClient, error) {
	if runs == nil {
		return nil, fmt.Errorf("RunStore cannot be nil for AsynqJobClient")
	}
	return &AsynqJobClient{client: asynq.NewClient(redis), runs: runs}, nil
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

func (jc *AsynqJobClient) Enqueue(ctx context.Context, task *asynq.Task, runID uuid.UUID, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if jc.client == nil {
		return nil, fmt.Errorf("AsynqJobClient internal client is not initialized")
	}
	log.Debugf("Enqueuing task type '%s' for run %s", task.Type(), runID)
	info, err := jc.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		log.Errorf("Failed to enqueue task type '%s' for run %s: %v", task.Type(), runID, err)
		return nil, err
	}
	log.Debugf("Enqueued task type '%s', id=%s queue=%s", task.Type(), info.ID, info.Queue)
	return info, nil
}

// EnqueueBatchRun records a new run as enqueued and submits it. The task ID is the run ID, so
// the same run cannot be queued twice.
func (jc *AsynqJobClient) EnqueueBatchRun(ctx context.Context, sources []string) (*models.BatchRun, error) {
	run := &models.BatchRun{
		ID:           uuid.New(),
		Status:       models.RunStatusEnqueued,
		Sources:      sources,
		TotalSources: len(sources),
	}
	task, err := tasks.NewBatchRunTask(tasks.BatchRunPayload{RunID: run.ID, Sources: sources})
	if err != nil {
		return nil, err
	}
	if err := jc.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record batch run %s: %w", run.ID, err)
	}

	_, err = jc.Enqueue(ctx, task, run.ID,
		asynq.TaskID(run.ID.String()),
		asynq.Queue(tasks.QueueBatch),
		asynq.MaxRetry(1),
		asynq.Timeout(batchRunTimeout),
	)
	if err != nil {
		if uerr := jc.runs.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed, err.Error()); uerr != nil {
			log.Errorf("Failed to mark run %s as failed: %v", run.ID, uerr)
		}
		return nil, fmt.Errorf("enqueue batch run %s: %w", run.ID, err)
	}
	return run, nil
}
