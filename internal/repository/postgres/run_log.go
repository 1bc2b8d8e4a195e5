package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"barometer/internal/domain/market"
	"barometer/pkg/errors"
)

// Compile-time check that we implement the interface
var _ market.RunLogRepository = (*RunLogRepository)(nil)

// RunLogRepository implements market.RunLogRepository using sqlx
type RunLogRepository struct {
	db DBTX
}

// NewRunLogRepository creates a new pipeline run log repository
func NewRunLogRepository(db DBTX) *RunLogRepository {
	return &RunLogRepository{db: db}
}

// Start inserts a running entry and returns it
func (r *RunLogRepository) Start(ctx context.Context, runType string) (*market.PipelineRun, error) {
	run := &market.PipelineRun{
		ID:        uuid.New().String(),
		RunType:   runType,
		StartedAt: time.Now().UTC(),
		Status:    market.RunStatusRunning,
	}

	query := `
		INSERT INTO pipeline_runs (id, run_type, started_at, status, records_in, records_failed)
		VALUES ($1, $2, $3, $4, 0, 0)`

	_, err := r.db.ExecContext(ctx, query, run.ID, run.RunType, run.StartedAt, run.Status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start pipeline run")
	}

	return run, nil
}

// Finish marks a run finished with the given status and counters
func (r *RunLogRepository) Finish(ctx context.Context, id string, status string, recordsIn, recordsFailed int64, runErr error) error {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	query := `
		UPDATE pipeline_runs
		SET finished_at = NOW(), status = $2, records_in = $3, records_failed = $4, error = $5
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status, recordsIn, recordsFailed, errMsg)
	if err != nil {
		return errors.Wrap(err, "failed to finish pipeline run")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check affected rows")
	}
	if affected == 0 {
		return errors.Wrap(errors.ErrNotFound, "pipeline run not found")
	}

	return nil
}

// Recent returns the latest runs, newest first
func (r *RunLogRepository) Recent(ctx context.Context, limit int) ([]market.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []market.PipelineRun

	query := `
		SELECT id, run_type, started_at, finished_at, status, records_in, records_failed, error
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1`

	err := r.db.SelectContext(ctx, &runs, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipeline runs")
	}

	return runs, nil
}
