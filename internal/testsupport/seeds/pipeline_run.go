package seeds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"barometer/internal/domain/market"
)

// PipelineRunBuilder provides a fluent API for creating PipelineRun entries
type PipelineRunBuilder struct {
	db     DBTX
	ctx    context.Context
	entity *market.PipelineRun
}

// NewPipelineRunBuilder creates a new PipelineRunBuilder with sensible defaults
func NewPipelineRunBuilder(db DBTX, ctx context.Context) *PipelineRunBuilder {
	return &PipelineRunBuilder{
		db:  db,
		ctx: ctx,
		entity: &market.PipelineRun{
			ID:        uuid.New().String(),
			RunType:   market.RunTypeSnapshotIngest,
			StartedAt: time.Now().UTC(),
			Status:    market.RunStatusRunning,
		},
	}
}

// WithRunType sets the run type
func (b *PipelineRunBuilder) WithRunType(runType string) *PipelineRunBuilder {
	b.entity.RunType = runType
	return b
}

// WithStartedAt sets the start time
func (b *PipelineRunBuilder) WithStartedAt(startedAt time.Time) *PipelineRunBuilder {
	b.entity.StartedAt = startedAt.UTC()
	return b
}

// Finished marks the run as completed with the given status and counters
func (b *PipelineRunBuilder) Finished(status string, recordsIn, recordsFailed int64) *PipelineRunBuilder {
	finishedAt := time.Now().UTC()
	b.entity.FinishedAt = &finishedAt
	b.entity.Status = status
	b.entity.RecordsIn = recordsIn
	b.entity.RecordsFailed = recordsFailed
	return b
}

// WithError attaches an error message to the run
func (b *PipelineRunBuilder) WithError(message string) *PipelineRunBuilder {
	b.entity.Error = &message
	return b
}

// Build returns the built entity without inserting to DB
func (b *PipelineRunBuilder) Build() *market.PipelineRun {
	return b.entity
}

// Insert inserts the pipeline run into the database and returns the entity
func (b *PipelineRunBuilder) Insert() (*market.PipelineRun, error) {
	query := `
		INSERT INTO pipeline_runs (
			id, run_type, started_at, finished_at, status,
			records_in, records_failed, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := b.db.ExecContext(b.ctx, query,
		b.entity.ID,
		b.entity.RunType,
		b.entity.StartedAt,
		b.entity.FinishedAt,
		b.entity.Status,
		b.entity.RecordsIn,
		b.entity.RecordsFailed,
		b.entity.Error,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pipeline run: %w", err)
	}

	return b.entity, nil
}

// MustInsert inserts the pipeline run and panics on error
func (b *PipelineRunBuilder) MustInsert() *market.PipelineRun {
	run, err := b.Insert()
	if err != nil {
		panic(err)
	}
	return run
}
