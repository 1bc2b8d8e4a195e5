package analytics

import "time"

// Derived rows are pure functions of the metric store contents at a snapshot
// cut. Nullable values are pointers; nil means undefined, never zero.

// DailyMovingAverage is one (currency, day) row of the daily price series
// with its 7-day calendar moving average
type DailyMovingAverage struct {
	Day         time.Time `json:"day"` // UTC midnight
	CurrencyID  int64     `json:"currency_id"`
	Symbol      string    `json:"symbol"`
	AvgPriceUSD *float64  `json:"avg_price_usd"`
	MovingAvg7d *float64  `json:"moving_avg_7d"`
}

// HourlyChange is one (currency, hour) row with the price change against
// the record exactly one hour earlier. A gap at the previous hour leaves
// PrevHourPrice and PctChange nil; a stale earlier price is never used.
type HourlyChange struct {
	Timestamp     time.Time `json:"timestamp"` // hour bucket, UTC
	CurrencyID    int64     `json:"currency_id"`
	Symbol        string    `json:"symbol"`
	PriceUSD      *float64  `json:"price_usd"`
	PrevHourPrice *float64  `json:"prev_hour_price"`
	PctChange     *float64  `json:"pct_change_hourly"`
}

// DailyVolumeRank is one (currency, day) row ranked by the day's last
// observed volume. Ranks are dense; nil volumes share the trailing rank.
type DailyVolumeRank struct {
	Day              time.Time `json:"day"`
	CurrencyID       int64     `json:"currency_id"`
	Symbol           string    `json:"symbol"`
	TotalDailyVolume *float64  `json:"total_daily_volume"`
	VolumeRank       int64     `json:"volume_rank"`
}

// MarketCapTrend is one (currency, month) row with average and peak market
// cap plus month-over-month and year-over-year changes. Changes are ratios
// (0.05 = +5%) and defined only when the exact prior month exists.
type MarketCapTrend struct {
	MonthStart       time.Time `json:"month_start"` // first day of month, UTC
	CurrencyID       int64     `json:"currency_id"`
	Symbol           string    `json:"symbol"`
	AvgMarketCapUSD  *float64  `json:"avg_market_cap_usd"`
	PeakMarketCapUSD *float64  `json:"peak_market_cap_usd"`
	MoMChange        *float64  `json:"mom_change"`
	YoYChange        *float64  `json:"yoy_change"`
	MarketCapRank    int64     `json:"market_cap_rank"`
	MoMChangeRank    int64     `json:"mom_change_rank"`
	YoYChangeRank    int64     `json:"yoy_change_rank"`
}

// CorrelationPair is one cell of the pairwise correlation matrix.
// Coefficient is nil when the overlap is under two observations or either
// return series has zero variance. Overlap is nil on the diagonal.
type CorrelationPair struct {
	BaseCurrencyID     int64    `json:"base_currency_id"`
	BaseSymbol         string   `json:"base_symbol"`
	ComparedCurrencyID int64    `json:"compared_currency_id"`
	ComparedSymbol     string   `json:"compared_symbol"`
	Coefficient        *float64 `json:"coefficient"`
	Overlap            *int64   `json:"overlapping_observations"`
	BaseRank           int64    `json:"base_market_cap_rank"`
	ComparedRank       int64    `json:"compared_market_cap_rank"`
}

// CorrelationMatrix holds the full symmetric pair set plus the cohort that
// produced it, in rank order
type CorrelationMatrix struct {
	AsOf   time.Time         `json:"as_of"`
	Cohort []CohortMember    `json:"cohort"`
	Pairs  []CorrelationPair `json:"pairs"`
}

// PairCount is nil-safe and returns the number of matrix cells
func (m *CorrelationMatrix) PairCount() int {
	if m == nil {
		return 0
	}
	return len(m.Pairs)
}

// At looks up the pair for two currencies regardless of argument order,
// normalizing to the (min, max) identity ordering. Passing the same id
// twice returns the diagonal cell.
func (m *CorrelationMatrix) At(a, b int64) (CorrelationPair, bool) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	for _, p := range m.Pairs {
		if p.BaseCurrencyID == lo && p.ComparedCurrencyID == hi {
			return p, true
		}
	}
	return CorrelationPair{}, false
}

// CohortMember is one currency admitted to a top-N selection
type CohortMember struct {
	CurrencyID   int64    `json:"currency_id"`
	Symbol       string   `json:"symbol"`
	Rank         int64    `json:"rank"` // 1-based position, row-number semantics
	MarketCapUSD *float64 `json:"market_cap_usd"`
}

// Severity labels for anomaly rows
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityNormal   Severity = "NORMAL"
)

// AnomalyPoint is one scored (currency, hour) observation. Hours without a
// defined hourly return are not scored and do not appear.
type AnomalyPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	CurrencyID      int64     `json:"currency_id"`
	Symbol          string    `json:"symbol"`
	PriceUSD        *float64  `json:"price_usd"`
	Volume24hUSD    *float64  `json:"volume_24h_usd"`
	HourlyReturnPct float64   `json:"hourly_return_pct"`
	PriceZScore     *float64  `json:"price_zscore"`
	VolumeZScore    *float64  `json:"volume_zscore"`
	P99AbsReturnPct *float64  `json:"p99_abs_return_pct"`
	P99VolumeUSD    *float64  `json:"p99_volume_usd"`
	IsAnomaly       bool      `json:"is_anomaly"`
	IsCritical      bool      `json:"is_critical"`
	Severity        Severity  `json:"severity"`
}

// Market health states
type HealthState string

const (
	StateRobust  HealthState = "ROBUST"
	StateStable  HealthState = "STABLE"
	StateFragile HealthState = "FRAGILE"
)

// MarketHealthDay is one day of the market-wide health assessment.
// Sub-scores and the composite are always defined (neutral 50 when the
// underlying metric or its history is missing) and live in [0, 100].
type MarketHealthDay struct {
	Day                    time.Time   `json:"day"`
	MarketVolatility       *float64    `json:"market_volatility"`
	AvgAbsReturn           *float64    `json:"avg_abs_return"`
	AvgPairwiseCorrelation *float64    `json:"avg_pairwise_correlation"`
	AvgVolume24hUSD        *float64    `json:"avg_volume_24h_usd"`
	VolatilityScore        float64     `json:"volatility_score"`
	CorrelationScore       float64     `json:"correlation_score"`
	VolumeScore            float64     `json:"volume_score"`
	CompositeScore         float64     `json:"market_health_score"`
	State                  HealthState `json:"market_health_state"`
}

// Snapshot is one consistent cut of every derived dataset, all computed
// from the same store contents. ObservedFrom/ObservedTo are the warehouse
// bounds the cut was derived over.
type Snapshot struct {
	ComputedAt     time.Time            `json:"computed_at"`
	ObservedFrom   time.Time            `json:"observed_from"`
	ObservedTo     time.Time            `json:"observed_to"`
	MovingAverages []DailyMovingAverage `json:"moving_averages"`
	HourlyChanges  []HourlyChange       `json:"hourly_changes"`
	VolumeRanks    []DailyVolumeRank    `json:"volume_ranks"`
	CapTrends      []MarketCapTrend     `json:"cap_trends"`
	Correlations   *CorrelationMatrix   `json:"correlations,omitempty"`
	Anomalies      []AnomalyPoint       `json:"anomalies"`
	Health         []MarketHealthDay    `json:"health"`
}

// TotalRows counts the rows across every dataset in the cut
func (s *Snapshot) TotalRows() int {
	return len(s.MovingAverages) + len(s.HourlyChanges) + len(s.VolumeRanks) +
		len(s.CapTrends) + len(s.Anomalies) + len(s.Health) + s.Correlations.PairCount()
}

// CriticalAnomalies returns the subset of anomaly rows that crossed the
// critical thresholds, in store order
func (s *Snapshot) CriticalAnomalies() []AnomalyPoint {
	var critical []AnomalyPoint
	for _, a := range s.Anomalies {
		if a.IsCritical {
			critical = append(critical, a)
		}
	}
	return critical
}

// Bounds is a closed time range in UTC
type Bounds struct {
	From time.Time
	To   time.Time
}

// Valid reports whether the range is well formed
func (b Bounds) Valid() bool {
	return !b.From.IsZero() && !b.To.IsZero() && !b.To.Before(b.From)
}
