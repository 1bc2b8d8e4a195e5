// Package datasets serves the derived analytics datasets as JSON. Every
// endpoint reads the latest cached snapshot and rebuilds it from the
// metric store on a cache miss, so readers never see a stale-or-nothing
// choice: the first request after a cold start pays the computation.
package datasets

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"barometer/internal/domain/analytics"
	"barometer/internal/services/snapshot"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

// Handler serves the seven dataset endpoints under /api/v1
type Handler struct {
	cache    analytics.SnapshotCache
	builder  *snapshot.Builder
	cacheTTL time.Duration
	maxRows  int
	log      *logger.Logger

	// rebuild serializes cache-miss recomputation so a burst of cold
	// requests triggers one build, not one per request
	rebuild sync.Mutex
}

// New creates the dataset handler. maxRows caps the ?limit= parameter
// and is the default row count when none is given.
func New(
	cache analytics.SnapshotCache,
	builder *snapshot.Builder,
	cacheTTL time.Duration,
	maxRows int,
	log *logger.Logger,
) *Handler {
	return &Handler{
		cache:    cache,
		builder:  builder,
		cacheTTL: cacheTTL,
		maxRows:  maxRows,
		log:      log.With("component", "datasets"),
	}
}

// Register mounts every dataset route on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	for path, fn := range map[string]http.HandlerFunc{
		"/api/v1/moving-averages": h.movingAverages,
		"/api/v1/hourly-changes":  h.hourlyChanges,
		"/api/v1/volume-ranks":    h.volumeRanks,
		"/api/v1/cap-trends":      h.capTrends,
		"/api/v1/correlations":    h.correlations,
		"/api/v1/anomalies":       h.anomalies,
		"/api/v1/market-health":   h.marketHealth,
	} {
		mux.HandleFunc(path, instrument(path, getOnly(fn)))
	}
}

// rowsResponse is the shared envelope for row-shaped datasets
type rowsResponse struct {
	ComputedAt   time.Time   `json:"computed_at"`
	ObservedFrom time.Time   `json:"observed_from"`
	ObservedTo   time.Time   `json:"observed_to"`
	Count        int         `json:"count"`
	Rows         interface{} `json:"rows"`
}

// correlationResponse carries the matrix with its cohort. An empty cohort
// means no currency had a market cap at the snapshot instant.
type correlationResponse struct {
	ComputedAt time.Time                   `json:"computed_at"`
	AsOf       time.Time                   `json:"as_of"`
	Cohort     []analytics.CohortMember    `json:"cohort"`
	Count      int                         `json:"count"`
	Pairs      []analytics.CorrelationPair `json:"pairs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) movingAverages(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	snap, err := h.latest(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	rows := capRows(snap.MovingAverages, limit)
	writeRows(w, snap, len(rows), rows)
}

func (h *Handler) hourlyChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	snap, err := h.latest(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	rows := capRows(snap.HourlyChanges, limit)
	writeRows(w, snap, len(rows), rows)
}

func (h *Handler) volumeRanks(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	snap, err := h.latest(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	rows := capRows(snap.VolumeRanks, limit)
	writeRows(w, snap, len(rows), rows)
}

func (h *Handler) capTrends(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	snap, err := h.latest(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	rows := capRows(snap.CapTrends, limit)
	writeRows(w, snap, len(rows), rows)
}

func (h *Handler) marketHealth(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	snap, err := h.latest(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	rows := capRows(snap.Health, limit)
	writeRows(w, snap, len(rows), rows)
}

// correlations filters matrix cells by ?min_overlap=. Diagonal cells
// carry no overlap and always pass the filter.
func (h *Handler) correlations(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	minOverlap := 0
	if raw := r.URL.Query().Get("min_overlap"); raw != "" {
		minOverlap, err = strconv.Atoi(raw)
		if err != nil || minOverlap < 0 {
			h.writeErr(w, errors.Wrapf(errors.ErrInvalidInput, "min_overlap %q", raw))
			return
		}
	}

	snap, err := h.latest(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}

	resp := correlationResponse{
		ComputedAt: snap.ComputedAt,
		Cohort:     []analytics.CohortMember{},
		Pairs:      []analytics.CorrelationPair{},
	}
	if m := snap.Correlations; m != nil {
		resp.AsOf = m.AsOf
		resp.Cohort = m.Cohort
		for _, p := range m.Pairs {
			if minOverlap > 0 && p.BaseCurrencyID != p.ComparedCurrencyID {
				if p.Overlap == nil || *p.Overlap < int64(minOverlap) {
					continue
				}
			}
			resp.Pairs = append(resp.Pairs, p)
		}
	}
	resp.Pairs = capRows(resp.Pairs, limit)
	resp.Count = len(resp.Pairs)

	writeJSON(w, http.StatusOK, resp)
}

// anomalies filters scored rows by ?only_anomalies= and ?severity=
func (h *Handler) anomalies(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	q := r.URL.Query()

	onlyAnomalies := false
	if raw := q.Get("only_anomalies"); raw != "" {
		onlyAnomalies, err = strconv.ParseBool(raw)
		if err != nil {
			h.writeErr(w, errors.Wrapf(errors.ErrInvalidInput, "only_anomalies %q", raw))
			return
		}
	}

	var severity analytics.Severity
	if raw := q.Get("severity"); raw != "" {
		severity = analytics.Severity(strings.ToUpper(raw))
		switch severity {
		case analytics.SeverityNormal, analytics.SeverityWarning, analytics.SeverityCritical:
		default:
			h.writeErr(w, errors.Wrapf(errors.ErrInvalidInput, "severity %q", raw))
			return
		}
	}

	snap, err := h.latest(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}

	rows := make([]analytics.AnomalyPoint, 0, len(snap.Anomalies))
	for _, a := range snap.Anomalies {
		if onlyAnomalies && !a.IsAnomaly {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		rows = append(rows, a)
	}
	rows = capRows(rows, limit)

	writeRows(w, snap, len(rows), rows)
}

// latest returns the cached snapshot, rebuilding and re-warming the cache
// on a miss. A cache read failure degrades to a rebuild instead of an
// error so a Redis outage does not take the read path down with it.
func (h *Handler) latest(ctx context.Context) (*analytics.Snapshot, error) {
	snap, err := h.cache.Get(ctx)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, errors.ErrCacheMiss) {
		h.log.Warnw("Snapshot cache read failed, rebuilding", "error", err)
	}

	h.rebuild.Lock()
	defer h.rebuild.Unlock()

	// Another request may have warmed the cache while we waited
	if snap, err := h.cache.Get(ctx); err == nil {
		return snap, nil
	}

	snap, err = h.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.cache.Save(ctx, snap, h.cacheTTL); err != nil {
		h.log.Warnw("Failed to warm snapshot cache", "error", err)
	}

	h.log.Infow("Snapshot rebuilt on cache miss", "rows", snap.TotalRows())
	return snap, nil
}

// limit parses ?limit=, defaulting to and capping at maxRows
func (h *Handler) limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.maxRows, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "limit %q", raw)
	}
	if n > h.maxRows {
		n = h.maxRows
	}
	return n, nil
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrInvalidInput) || errors.Is(err, errors.ErrInvalidBounds):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, errors.ErrEmptyStore) || errors.Is(err, errors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		h.log.Errorw("Dataset request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeRows(w http.ResponseWriter, snap *analytics.Snapshot, count int, rows interface{}) {
	writeJSON(w, http.StatusOK, rowsResponse{
		ComputedAt:   snap.ComputedAt,
		ObservedFrom: snap.ObservedFrom,
		ObservedTo:   snap.ObservedTo,
		Count:        count,
		Rows:         rows,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// capRows truncates to limit and normalizes nil to an empty slice so the
// JSON rows field is always an array
func capRows[T any](rows []T, limit int) []T {
	if rows == nil {
		return []T{}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
