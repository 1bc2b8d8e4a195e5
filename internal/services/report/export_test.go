package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barometer/internal/domain/analytics"
	"barometer/pkg/logger"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExport_WritesAllDatasets(t *testing.T) {
	svc := NewService(logger.Get())
	dir := t.TempDir()

	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	snapshot := &analytics.Snapshot{
		ObservedFrom: day,
		ObservedTo:   day.Add(29 * time.Hour),
		MovingAverages: []analytics.DailyMovingAverage{
			{Day: day, CurrencyID: 1, Symbol: "BTC", AvgPriceUSD: ptr(100.5), MovingAvg7d: ptr(99.25)},
		},
		HourlyChanges: []analytics.HourlyChange{
			{Timestamp: day, CurrencyID: 1, Symbol: "BTC", PriceUSD: ptr(100)},
		},
		VolumeRanks: []analytics.DailyVolumeRank{
			{Day: day, CurrencyID: 1, Symbol: "BTC", TotalDailyVolume: ptr(5000), VolumeRank: 1},
		},
		CapTrends: []analytics.MarketCapTrend{
			trend(month(2025, time.July), 1, "BTC", ptr(0.05)),
		},
		Correlations: matrixWith(ptr(0.42), 29),
		Anomalies: []analytics.AnomalyPoint{
			{Timestamp: day, CurrencyID: 1, Symbol: "BTC", HourlyReturnPct: 1.5, Severity: analytics.SeverityNormal},
		},
		Health: []analytics.MarketHealthDay{
			healthDay(day, analytics.StateRobust, 80),
		},
	}

	paths, err := svc.Export(dir, snapshot)
	require.NoError(t, err)
	require.Len(t, paths, 14, "seven datasets, CSV plus JSON each")

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.False(t, info.IsDir())
		assert.Equal(t, dir, filepath.Dir(p))
	}

	rows := readCSV(t, filepath.Join(dir, "moving_averages.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"day", "currency_id", "symbol", "avg_price_usd", "moving_avg_7d"}, rows[0])
	assert.Equal(t, []string{"2025-07-01T00:00:00Z", "1", "BTC", "100.5", "99.25"}, rows[1])

	// Nil fields stay empty cells, never zeros
	rows = readCSV(t, filepath.Join(dir, "hourly_changes.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1][4])
	assert.Equal(t, "", rows[1][5])

	var pairs []analytics.CorrelationPair
	data, err := os.ReadFile(filepath.Join(dir, "correlation_pairs.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &pairs))
	require.Len(t, pairs, 3)

	var health []analytics.MarketHealthDay
	data, err = os.ReadFile(filepath.Join(dir, "market_health.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &health))
	require.Len(t, health, 1)
	assert.Equal(t, analytics.StateRobust, health[0].State)
}

func TestExport_NoMatrixStillWritesEmptyFiles(t *testing.T) {
	svc := NewService(logger.Get())
	dir := t.TempDir()

	paths, err := svc.Export(dir, &analytics.Snapshot{})
	require.NoError(t, err)
	require.Len(t, paths, 14)

	rows := readCSV(t, filepath.Join(dir, "correlation_pairs.csv"))
	require.Len(t, rows, 1, "header only")

	data, err := os.ReadFile(filepath.Join(dir, "correlation_pairs.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data), "empty datasets export as [] not null")
}

func TestCapRows(t *testing.T) {
	big := make([]analytics.HourlyChange, exportRowCap+17)
	assert.Len(t, capRows(big), exportRowCap)

	small := []analytics.HourlyChange{{Symbol: "BTC"}}
	assert.Len(t, capRows(small), 1)

	assert.NotNil(t, capRows[analytics.HourlyChange](nil))
	assert.Empty(t, capRows[analytics.HourlyChange](nil))
}
