package report

import (
	"math"
	"sort"
	"time"

	"barometer/internal/domain/analytics"
	"barometer/pkg/logger"
)

const (
	defaultMoverCount = 5

	// Risk level thresholds
	criticalCountHigh   = 5
	compositeFloorHigh  = 45.0
	absCorrelationHigh  = 0.85
	warningCountMedium  = 10
	absCorrelationMedium = 0.70

	// An average pair overlap under one day of hourly observations makes
	// the correlation signal too thin to lean on
	thinOverlapHours = 24

	maxCriticalHighlights = 10
)

// RiskLevel grades the market-wide risk posture
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// Mover is one leader or laggard of the latest month, by month-over-month
// market cap change
type Mover struct {
	CurrencyID      int64     `json:"currency_id"`
	Symbol          string    `json:"symbol"`
	MonthStart      time.Time `json:"month_start"`
	MoMChange       float64   `json:"mom_change"`
	AvgMarketCapUSD *float64  `json:"avg_market_cap_usd"`
	MarketCapRank   int64     `json:"market_cap_rank"`
}

// Movers holds the gainer and loser boards of the latest month
type Movers struct {
	Month   time.Time `json:"month"`
	Gainers []Mover   `json:"gainers"`
	Losers  []Mover   `json:"losers"`
}

// RiskSummary condenses the latest cut into one risk posture
type RiskSummary struct {
	AsOfDay            time.Time             `json:"as_of_day"`
	HealthState        analytics.HealthState `json:"health_state"`
	CompositeScore     float64               `json:"composite_score"`
	CriticalCount      int                   `json:"critical_count"`
	WarningCount       int                   `json:"warning_count"`
	AvgAbsCorrelation  *float64              `json:"avg_abs_correlation"`
	RiskLevel          RiskLevel             `json:"risk_level"`
	ThinCorrelationSet bool                  `json:"thin_correlation_set"`
	ThinTrendHistory   bool                  `json:"thin_trend_history"`
}

// Report is the full insights bundle derived from one snapshot cut
type Report struct {
	GeneratedAt       time.Time                `json:"generated_at"`
	ObservedFrom      time.Time                `json:"observed_from"`
	ObservedTo        time.Time                `json:"observed_to"`
	Movers            Movers                   `json:"top_movers"`
	Risk              RiskSummary              `json:"risk_summary"`
	CriticalAnomalies []analytics.AnomalyPoint `json:"critical_anomalies"`
}

// Service derives reading-friendly insights from a computed snapshot
type Service struct {
	log *logger.Logger
}

// NewService creates a report service
func NewService(log *logger.Logger) *Service {
	return &Service{log: log.With("component", "report")}
}

// Build assembles the full report from one snapshot
func (s *Service) Build(snapshot *analytics.Snapshot, moverCount int) *Report {
	critical := snapshot.CriticalAnomalies()
	if len(critical) > maxCriticalHighlights {
		critical = critical[len(critical)-maxCriticalHighlights:]
	}

	return &Report{
		GeneratedAt:       time.Now().UTC(),
		ObservedFrom:      snapshot.ObservedFrom,
		ObservedTo:        snapshot.ObservedTo,
		Movers:            s.TopMovers(snapshot.CapTrends, moverCount),
		Risk:              s.RiskSummary(snapshot),
		CriticalAnomalies: critical,
	}
}

// TopMovers restricts trends to the latest month present, keeps rows with a
// defined month-over-month change, and returns the top n gainers and losers.
// n defaults to 5.
func (s *Service) TopMovers(trends []analytics.MarketCapTrend, n int) Movers {
	if n <= 0 {
		n = defaultMoverCount
	}
	if len(trends) == 0 {
		return Movers{}
	}

	var latest time.Time
	for _, t := range trends {
		if t.MonthStart.After(latest) {
			latest = t.MonthStart
		}
	}

	var candidates []Mover
	for _, t := range trends {
		if !t.MonthStart.Equal(latest) || t.MoMChange == nil {
			continue
		}
		candidates = append(candidates, Mover{
			CurrencyID:      t.CurrencyID,
			Symbol:          t.Symbol,
			MonthStart:      t.MonthStart,
			MoMChange:       *t.MoMChange,
			AvgMarketCapUSD: t.AvgMarketCapUSD,
			MarketCapRank:   t.MarketCapRank,
		})
	}

	gainers := make([]Mover, len(candidates))
	copy(gainers, candidates)
	sort.SliceStable(gainers, func(i, j int) bool {
		if gainers[i].MoMChange != gainers[j].MoMChange {
			return gainers[i].MoMChange > gainers[j].MoMChange
		}
		return gainers[i].Symbol < gainers[j].Symbol
	})

	losers := make([]Mover, len(candidates))
	copy(losers, candidates)
	sort.SliceStable(losers, func(i, j int) bool {
		if losers[i].MoMChange != losers[j].MoMChange {
			return losers[i].MoMChange < losers[j].MoMChange
		}
		return losers[i].Symbol < losers[j].Symbol
	})

	return Movers{
		Month:   latest,
		Gainers: truncateMovers(gainers, n),
		Losers:  truncateMovers(losers, n),
	}
}

// RiskSummary grades the latest health day against the anomaly counts and
// the average absolute pairwise correlation
func (s *Service) RiskSummary(snapshot *analytics.Snapshot) RiskSummary {
	summary := RiskSummary{}

	for _, day := range snapshot.Health {
		if day.Day.After(summary.AsOfDay) {
			summary.AsOfDay = day.Day
			summary.HealthState = day.State
			summary.CompositeScore = day.CompositeScore
		}
	}

	for _, a := range snapshot.Anomalies {
		switch a.Severity {
		case analytics.SeverityCritical:
			summary.CriticalCount++
		case analytics.SeverityWarning:
			summary.WarningCount++
		}
	}

	summary.AvgAbsCorrelation, summary.ThinCorrelationSet = correlationProfile(snapshot.Correlations)
	summary.ThinTrendHistory = thinTrendHistory(snapshot.CapTrends)
	summary.RiskLevel = gradeRisk(summary)

	return summary
}

func gradeRisk(s RiskSummary) RiskLevel {
	avgCorr := 0.0
	if s.AvgAbsCorrelation != nil {
		avgCorr = *s.AvgAbsCorrelation
	}

	hasHealth := !s.AsOfDay.IsZero()

	switch {
	case s.HealthState == analytics.StateFragile,
		s.CriticalCount >= criticalCountHigh,
		hasHealth && s.CompositeScore < compositeFloorHigh,
		s.AvgAbsCorrelation != nil && avgCorr >= absCorrelationHigh:
		return RiskHigh

	case s.HealthState == analytics.StateStable,
		s.CriticalCount > 0,
		s.WarningCount >= warningCountMedium,
		s.AvgAbsCorrelation != nil && avgCorr >= absCorrelationMedium:
		return RiskMedium

	default:
		return RiskLow
	}
}

// correlationProfile returns the mean absolute coefficient over defined
// off-diagonal pairs and whether the pair overlaps are too thin to trust.
// Each unordered pair appears in the matrix once.
func correlationProfile(matrix *analytics.CorrelationMatrix) (*float64, bool) {
	if matrix == nil {
		return nil, true
	}

	var coeffSum float64
	var coeffN int
	var overlapSum float64
	var overlapN int

	for _, p := range matrix.Pairs {
		if p.BaseCurrencyID == p.ComparedCurrencyID {
			continue
		}
		if p.Coefficient != nil {
			coeffSum += math.Abs(*p.Coefficient)
			coeffN++
		}
		if p.Overlap != nil {
			overlapSum += float64(*p.Overlap)
			overlapN++
		}
	}

	var avgAbs *float64
	if coeffN > 0 {
		v := coeffSum / float64(coeffN)
		avgAbs = &v
	}

	thin := overlapN == 0 || overlapSum/float64(overlapN) < thinOverlapHours
	return avgAbs, thin
}

// thinTrendHistory reports fewer than two distinct months or no defined
// month-over-month points
func thinTrendHistory(trends []analytics.MarketCapTrend) bool {
	months := make(map[int64]struct{})
	hasMoM := false
	for _, t := range trends {
		months[t.MonthStart.Unix()] = struct{}{}
		if t.MoMChange != nil {
			hasMoM = true
		}
	}
	return len(months) < 2 || !hasMoM
}

func truncateMovers(movers []Mover, n int) []Mover {
	if len(movers) > n {
		return movers[:n]
	}
	return movers
}
