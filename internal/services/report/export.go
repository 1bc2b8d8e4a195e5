package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"barometer/internal/domain/analytics"
	"barometer/pkg/errors"
)

// exportRowCap bounds every exported dataset
const exportRowCap = 5000

// Export writes every dataset of the snapshot as a CSV and a JSON file
// under dir and returns the written paths. Datasets are capped at 5000
// rows; an absent correlation matrix still produces empty files so the
// exported set is always the same seven datasets.
func (s *Service) Export(dir string, snapshot *analytics.Snapshot) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create export directory")
	}

	var written []string
	exportDataset := func(name string, header []string, rows [][]string, payload interface{}) error {
		csvPath := filepath.Join(dir, name+".csv")
		if err := writeCSV(csvPath, header, rows); err != nil {
			return errors.Wrapf(err, "export %s.csv", name)
		}
		written = append(written, csvPath)

		jsonPath := filepath.Join(dir, name+".json")
		if err := writeJSON(jsonPath, payload); err != nil {
			return errors.Wrapf(err, "export %s.json", name)
		}
		written = append(written, jsonPath)
		return nil
	}

	movingAverages := capRows(snapshot.MovingAverages)
	if err := exportDataset("moving_averages",
		[]string{"day", "currency_id", "symbol", "avg_price_usd", "moving_avg_7d"},
		movingAverageRows(movingAverages), movingAverages); err != nil {
		return nil, err
	}

	hourlyChanges := capRows(snapshot.HourlyChanges)
	if err := exportDataset("hourly_changes",
		[]string{"timestamp", "currency_id", "symbol", "price_usd", "prev_hour_price", "pct_change_hourly"},
		hourlyChangeRows(hourlyChanges), hourlyChanges); err != nil {
		return nil, err
	}

	volumeRanks := capRows(snapshot.VolumeRanks)
	if err := exportDataset("volume_ranks",
		[]string{"day", "currency_id", "symbol", "total_daily_volume", "volume_rank"},
		volumeRankRows(volumeRanks), volumeRanks); err != nil {
		return nil, err
	}

	capTrends := capRows(snapshot.CapTrends)
	if err := exportDataset("cap_trends",
		[]string{"month_start", "currency_id", "symbol", "avg_market_cap_usd", "peak_market_cap_usd",
			"mom_change", "yoy_change", "market_cap_rank", "mom_change_rank", "yoy_change_rank"},
		capTrendRows(capTrends), capTrends); err != nil {
		return nil, err
	}

	var pairs []analytics.CorrelationPair
	if snapshot.Correlations != nil {
		pairs = snapshot.Correlations.Pairs
	}
	pairs = capRows(pairs)
	if err := exportDataset("correlation_pairs",
		[]string{"base_currency_id", "base_symbol", "compared_currency_id", "compared_symbol",
			"coefficient", "overlapping_observations", "base_market_cap_rank", "compared_market_cap_rank"},
		correlationPairRows(pairs), pairs); err != nil {
		return nil, err
	}

	anomalies := capRows(snapshot.Anomalies)
	if err := exportDataset("anomalies",
		[]string{"timestamp", "currency_id", "symbol", "price_usd", "volume_24h_usd", "hourly_return_pct",
			"price_zscore", "volume_zscore", "p99_abs_return_pct", "p99_volume_usd",
			"is_anomaly", "is_critical", "severity"},
		anomalyRows(anomalies), anomalies); err != nil {
		return nil, err
	}

	health := capRows(snapshot.Health)
	if err := exportDataset("market_health",
		[]string{"day", "market_volatility", "avg_abs_return", "avg_pairwise_correlation", "avg_volume_24h_usd",
			"volatility_score", "correlation_score", "volume_score", "market_health_score", "market_health_state"},
		healthRows(health), health); err != nil {
		return nil, err
	}

	s.log.Infow("Snapshot exported", "dir", dir, "files", len(written))
	return written, nil
}

// capRows bounds a dataset at the export cap and normalizes nil to an
// empty slice so JSON exports carry [] instead of null
func capRows[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	if len(rows) > exportRowCap {
		return rows[:exportRowCap]
	}
	return rows
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func movingAverageRows(rows []analytics.DailyMovingAverage) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			csvTime(r.Day), csvInt(r.CurrencyID), r.Symbol,
			csvFloatPtr(r.AvgPriceUSD), csvFloatPtr(r.MovingAvg7d),
		})
	}
	return out
}

func hourlyChangeRows(rows []analytics.HourlyChange) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			csvTime(r.Timestamp), csvInt(r.CurrencyID), r.Symbol,
			csvFloatPtr(r.PriceUSD), csvFloatPtr(r.PrevHourPrice), csvFloatPtr(r.PctChange),
		})
	}
	return out
}

func volumeRankRows(rows []analytics.DailyVolumeRank) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			csvTime(r.Day), csvInt(r.CurrencyID), r.Symbol,
			csvFloatPtr(r.TotalDailyVolume), csvInt(r.VolumeRank),
		})
	}
	return out
}

func capTrendRows(rows []analytics.MarketCapTrend) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			csvTime(r.MonthStart), csvInt(r.CurrencyID), r.Symbol,
			csvFloatPtr(r.AvgMarketCapUSD), csvFloatPtr(r.PeakMarketCapUSD),
			csvFloatPtr(r.MoMChange), csvFloatPtr(r.YoYChange),
			csvInt(r.MarketCapRank), csvInt(r.MoMChangeRank), csvInt(r.YoYChangeRank),
		})
	}
	return out
}

func correlationPairRows(rows []analytics.CorrelationPair) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			csvInt(r.BaseCurrencyID), r.BaseSymbol, csvInt(r.ComparedCurrencyID), r.ComparedSymbol,
			csvFloatPtr(r.Coefficient), csvIntPtr(r.Overlap),
			csvInt(r.BaseRank), csvInt(r.ComparedRank),
		})
	}
	return out
}

func anomalyRows(rows []analytics.AnomalyPoint) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			csvTime(r.Timestamp), csvInt(r.CurrencyID), r.Symbol,
			csvFloatPtr(r.PriceUSD), csvFloatPtr(r.Volume24hUSD), csvFloat(r.HourlyReturnPct),
			csvFloatPtr(r.PriceZScore), csvFloatPtr(r.VolumeZScore),
			csvFloatPtr(r.P99AbsReturnPct), csvFloatPtr(r.P99VolumeUSD),
			strconv.FormatBool(r.IsAnomaly), strconv.FormatBool(r.IsCritical), string(r.Severity),
		})
	}
	return out
}

func healthRows(rows []analytics.MarketHealthDay) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			csvTime(r.Day),
			csvFloatPtr(r.MarketVolatility), csvFloatPtr(r.AvgAbsReturn),
			csvFloatPtr(r.AvgPairwiseCorrelation), csvFloatPtr(r.AvgVolume24hUSD),
			csvFloat(r.VolatilityScore), csvFloat(r.CorrelationScore), csvFloat(r.VolumeScore),
			csvFloat(r.CompositeScore), string(r.State),
		})
	}
	return out
}

func csvTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func csvInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func csvIntPtr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func csvFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func csvFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
