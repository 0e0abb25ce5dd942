package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task types and queues used with Asynq.

const (
	// TypeBatchRun runs the filter chain over a set of source files.
	TypeBatchRun = "batch:run"

	// QueueBatch is the queue batch runs are enqueued on.
	QueueBatch = "batch"
)

// BatchRunPayload is the payload of a TypeBatchRun task. Sources are file or directory paths
// readable by the worker.
type BatchRunPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	Sources []string  `json:"sources"`
}

func NewBatchRunTask(p BatchRunPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if p.RunID == uuid.Nil {
		return nil, fmt.Errorf("batch run payload has no run id")
	}
	if len(p.Sources) == 0 {
		return nil, fmt.Errorf("batch run payload has no sources")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch run payload: %w", err)
	}
	return asynq.NewTask(TypeBatchRun, b, opts...), nil
}

func ParseBatchRunPayload(t *asynq.Task) (BatchRunPayload, error) {
	var p BatchRunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal batch run payload: %w", err)
	}
	if p.RunID == uuid.Nil || len(p.Sources) == 0 {
		return p, fmt.Errorf("batch run payload is missing run_id or sources")
	}
	return p, nil
}
