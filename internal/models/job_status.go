package models

/*
Run status and task type constants shared by the queue, the store and the API.
*/

// Batch run status constants
const (
	RunStatusEnqueued  = "enqueued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Service type constants recorded in AI usage logs
const (
	ServiceTypeEvaluation      = "evaluation"
	ServiceTypeBatchEvaluation = "batch_evaluation"
)
