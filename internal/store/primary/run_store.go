package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"

	"sift/internal/batch"
	"sift/internal/models"
	"sift/internal/store"
)

// --- Run Store Implementation ---

// CreateRun inserts a new run record.
func (s *StoreImpl) CreateRun(ctx context.Context, run *models.BatchRun) error {
	query := `
		INSERT INTO batch_runs (id, status, sources, total_sources, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	now := time.Now()
	sources := run.Sources
	if sources == nil {
		sources = []string{}
	}
	err := s.db.QueryRow(ctx, query, run.ID, run.Status, sources, run.TotalSources, now, now).
		Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("run %s already exists: %w", run.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert batch run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunStatus sets the status of a run. errMsg is stored when non-empty. Terminal statuses
// also set finished_at.
func (s *StoreImpl) UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, errMsg string) error {
	query := `
		UPDATE batch_runs
		SET status = $1,
		    error = COALESCE($2, error),
		    updated_at = $3,
		    finished_at = CASE WHEN $4 THEN $3 ELSE finished_at END
		WHERE id = $5`

	var errText *string
	if errMsg != "" {
		errText = &errMsg
	}
	terminal := (&models.BatchRun{Status: status}).Terminal()
	cmdTag, err := s.db.Exec(ctx, query, status, errText, time.Now(), terminal, id)
	if err != nil {
		return fmt.Errorf("failed to update status for run %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found to update status: %w", id, store.ErrNotFound)
	}
	return nil
}

// SaveBatchResult upserts the run row, replaces its per-source rows and stores the exported
// report, all in one transaction.
func (s *StoreImpl) SaveBatchResult(ctx context.Context, res *models.BatchFilterResult) error {
	report, err := json.Marshal(batch.Export(res))
	if err != nil {
		return fmt.Errorf("failed to marshal report for run %s: %w", res.RunID, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	sourceIDs := make([]string, len(res.Sources))
	for i, src := range res.Sources {
		sourceIDs[i] = src.SourceID
	}
	now := time.Now()
	finished := res.FinishedAt
	if finished.IsZero() {
		finished = now
	}
	upsert := `
		INSERT INTO batch_runs (id, status, sources, total_sources, processed_sources, failed_sources,
		                        articles_fetched, articles_selected, report, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_sources = EXCLUDED.total_sources,
			processed_sources = EXCLUDED.processed_sources,
			failed_sources = EXCLUDED.failed_sources,
			articles_fetched = EXCLUDED.articles_fetched,
			articles_selected = EXCLUDED.articles_selected,
			report = EXCLUDED.report,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at`
	_, err = tx.Exec(ctx, upsert,
		res.RunID, models.RunStatusCompleted, sourceIDs, res.TotalSources, res.ProcessedSources, res.FailedSources,
		res.TotalArticlesFetched, res.TotalArticlesSelected, report, res.StartedAt, now, finished,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert batch run %s: %w", res.RunID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM run_sources WHERE run_id = $1`, res.RunID); err != nil {
		return fmt.Errorf("failed to clear sources of run %s: %w", res.RunID, err)
	}
	rows := make([][]interface{}, 0, len(res.Sources))
	for i, src := range res.Sources {
		var errText *string
		if src.Error != "" {
			e := src.Error
			errText = &e
		}
		var filterMs int64
		if src.Result != nil {
			filterMs = src.Result.TotalProcessingTime.Milliseconds()
		}
		rows = append(rows, []interface{}{
			res.RunID, i, src.SourceID, src.SourceTitle, src.ArticlesFetched, src.SelectedCount(),
			src.FetchTime.Milliseconds(), filterMs, errText,
		})
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"run_sources"},
			[]string{"run_id", "position", "source_id", "source_title", "articles_fetched", "articles_selected",
				"fetch_time_ms", "filter_time_ms", "error"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to insert sources of run %s: %w", res.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", res.RunID, err)
	}
	log.Debugf("Saved batch run %s with %d sources", res.RunID, len(rows))
	return nil
}

const runColumns = `id, status, sources, total_sources, processed_sources, failed_sources,
	articles_fetched, articles_selected, error, created_at, updated_at, finished_at`

func scanRun(row pgx.Row, run *models.BatchRun, extra ...interface{}) error {
	dest := []interface{}{
		&run.ID, &run.Status, &run.Sources, &run.TotalSources, &run.ProcessedSources, &run.FailedSources,
		&run.ArticlesFetched, &run.ArticlesSelected, &run.Error, &run.CreatedAt, &run.UpdatedAt, &run.FinishedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// GetRun returns a run including its stored report.
func (s *StoreImpl) GetRun(ctx context.Context, id uuid.UUID) (*models.BatchRun, error) {
	query := `SELECT ` + runColumns + `, report FROM batch_runs WHERE id = $1`
	run := &models.BatchRun{}
	var report []byte
	if err := scanRun(s.db.QueryRow(ctx, query, id), run, &report); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	if len(report) > 0 {
		run.Report = json.RawMessage(report)
	}
	return run, nil
}

// ListRuns returns runs newest first, without their reports.
func (s *StoreImpl) ListRuns(ctx context.Context, limit, offset int) ([]*models.BatchRun, error) {
	query := `SELECT ` + runColumns + ` FROM batch_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.BatchRun
	for rows.Next() {
		run := &models.BatchRun{}
		if err := scanRun(rows, run); err != nil {
			return runs, fmt.Errorf("failed to scan batch run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("error iterating batch run rows: %w", err)
	}
	return runs, nil
}

// ListRunSources returns the per-source rows of a run in submission order.
func (s *StoreImpl) ListRunSources(ctx context.Context, id uuid.UUID) ([]*models.RunSource, error) {
	query := `
		SELECT run_id, position, source_id, source_title, articles_fetched, articles_selected,
		       fetch_time_ms, filter_time_ms, error
		FROM run_sources WHERE run_id = $1 ORDER BY position`
	rows, err := s.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources of run %s: %w", id, err)
	}
	defer rows.Close()

	return pgx.CollectRows[*models.RunSource](rows, func(row pgx.CollectableRow) (*models.RunSource, error) {
		var src models.RunSource
		var fetchMs, filterMs int64
		err := row.Scan(&src.RunID, &src.Position, &src.SourceID, &src.SourceTitle, &src.ArticlesFetched,
			&src.ArticlesSelected, &fetchMs, &filterMs, &src.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run source: %w", err)
		}
		src.FetchTime = time.Duration(fetchMs) * time.Millisecond
		src.FilterTime = time.Duration(filterMs) * time.Millisecond
		return &src, nil
	})
}

var _ store.RunStore = (*StoreImpl)(nil)
