package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barometer/internal/domain/market"
	"barometer/internal/testsupport"
	"barometer/internal/testsupport/seeds"
	"barometer/pkg/errors"
)

func TestRunLogRepository_StartAndFinish(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	repo := NewRunLogRepository(testDB.Tx())
	ctx := context.Background()

	run, err := repo.Start(ctx, market.RunTypeSnapshotIngest)
	require.NoError(t, err)
	assert.Equal(t, market.RunStatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	_, err = uuid.Parse(run.ID)
	require.NoError(t, err, "run ID should be a UUID")

	err = repo.Finish(ctx, run.ID, market.RunStatusSuccess, 120, 3, nil)
	require.NoError(t, err)

	runs, err := repo.Recent(ctx, 50)
	require.NoError(t, err)

	stored := findRun(t, runs, run.ID)
	assert.Equal(t, market.RunStatusSuccess, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
	assert.Equal(t, int64(120), stored.RecordsIn)
	assert.Equal(t, int64(3), stored.RecordsFailed)
	assert.Nil(t, stored.Error)
}

func TestRunLogRepository_FinishRecordsErrorMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	repo := NewRunLogRepository(testDB.Tx())
	ctx := context.Background()

	run, err := repo.Start(ctx, market.RunTypeAnalyticsRefresh)
	require.NoError(t, err)

	err = repo.Finish(ctx, run.ID, market.RunStatusFailed, 0, 10, errors.New("broker unreachable"))
	require.NoError(t, err)

	runs, err := repo.Recent(ctx, 50)
	require.NoError(t, err)

	stored := findRun(t, runs, run.ID)
	assert.Equal(t, market.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "broker unreachable")
}

func TestRunLogRepository_FinishUnknownRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	repo := NewRunLogRepository(testDB.Tx())

	err := repo.Finish(context.Background(), uuid.New().String(), market.RunStatusSuccess, 0, 0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRunLogRepository_RecentNewestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	repo := NewRunLogRepository(testDB.Tx())
	ctx := context.Background()

	// Future start times keep these two ahead of anything already in the table
	seeder := seeds.New(testDB.Tx())
	older := seeder.PipelineRun().WithStartedAt(time.Now().UTC().Add(time.Hour)).MustInsert()
	newer := seeder.PipelineRun().WithStartedAt(time.Now().UTC().Add(2 * time.Hour)).MustInsert()

	runs, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)

	limited, err := repo.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.ID, limited[0].ID)
}

func findRun(t *testing.T, runs []market.PipelineRun, id string) market.PipelineRun {
	t.Helper()

	for _, run := range runs {
		if run.ID == id {
			return run
		}
	}

	t.Fatalf("run %s not found in %d recent runs", id, len(runs))
	return market.PipelineRun{}
}
