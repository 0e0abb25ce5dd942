package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BatchRun is the persisted record of one batch run, queued or run in-process.
type BatchRun struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	Status           string          `json:"status" db:"status"`
	Sources          []string        `json:"sources" db:"sources"`
	TotalSources     int             `json:"total_sources" db:"total_sources"`
	ProcessedSources int             `json:"processed_sources" db:"processed_sources"`
	FailedSources    int             `json:"failed_sources" db:"failed_sources"`
	ArticlesFetched  int             `json:"articles_fetched" db:"articles_fetched"`
	ArticlesSelected int             `json:"articles_selected" db:"articles_selected"`
	Error            *string         `json:"error,omitempty" db:"error"`
	Report           json.RawMessage `json:"report,omitempty" db:"report"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// Terminal reports whether the run will not change status again.
func (r *BatchRun) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunSource is the per-source row stored with a batch run.
type RunSource struct {
	RunID            uuid.UUID     `json:"run_id" db:"run_id"`
	Position         int           `json:"position" db:"position"`
	SourceID         string        `json:"source_id" db:"source_id"`
	SourceTitle      string        `json:"source_title" db:"source_title"`
	ArticlesFetched  int           `json:"articles_fetched" db:"articles_fetched"`
	ArticlesSelected int           `json:"articles_selected" db:"articles_selected"`
	FetchTime        time.Duration `json:"fetch_time" db:"fetch_time_ms"`
	FilterTime       time.Duration `json:"filter_time" db:"filter_time_ms"`
	Error            *string       `json:"error,omitempty" db:"error"`
}
