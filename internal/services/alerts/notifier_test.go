package alerts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barometer/internal/domain/analytics"
	"barometer/internal/testsupport"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

type senderStub struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *senderStub) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *senderStub) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *senderStub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func criticalPoint(id int64, symbol string, ts time.Time, returnPct float64) analytics.AnomalyPoint {
	z := 5.5
	return analytics.AnomalyPoint{
		Timestamp:       ts,
		CurrencyID:      id,
		Symbol:          symbol,
		HourlyReturnPct: returnPct,
		PriceZScore:     &z,
		IsAnomaly:       true,
		IsCritical:      true,
		Severity:        analytics.SeverityCritical,
	}
}

func TestNotifier_DisabledWithoutSender(t *testing.T) {
	n := NewNotifier(nil, nil, logger.Get())
	assert.False(t, n.Enabled())

	err := n.NotifyCritical(context.Background(), []analytics.AnomalyPoint{
		criticalPoint(1, "BTC", time.Now().UTC(), 42),
	})
	assert.NoError(t, err)

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
	assert.NoError(t, nilNotifier.NotifyCritical(context.Background(), nil))
}

func TestFormatAlert(t *testing.T) {
	ts := time.Date(2025, 7, 2, 3, 0, 0, 0, time.UTC)
	text := formatAlert([]analytics.AnomalyPoint{
		criticalPoint(1, "BTC", ts, 197.02),
		{Timestamp: ts.Add(time.Hour), CurrencyID: 2, Symbol: "ETH", HourlyReturnPct: -55.5, IsCritical: true},
	})

	assert.Contains(t, text, "2 new")
	assert.Contains(t, text, "*BTC* 2025-07-02 03:00 UTC — return +197.02%, price z 5.5, volume z n/a")
	assert.Contains(t, text, "*ETH* 2025-07-02 04:00 UTC — return -55.50%, price z n/a")
}

func TestFormatAlert_CapsLines(t *testing.T) {
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	var rows []analytics.AnomalyPoint
	for i := 0; i < maxAlertLines+2; i++ {
		rows = append(rows, criticalPoint(int64(i), "C"+string(rune('A'+i)), base.Add(time.Duration(i)*time.Hour), 10))
	}

	text := formatAlert(rows)

	assert.Contains(t, text, "…and 2 earlier rows")
	assert.NotContains(t, text, "*CA*", "oldest rows collapse into the count")
	assert.Contains(t, text, "*CC*", "newest rows are listed")
	assert.Equal(t, maxAlertLines, strings.Count(text, "\n• "))
}

func TestNotifier_SendsOnlyNewRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := testsupport.NewTestRedis(t)
	sender := &senderStub{}
	n := NewNotifier(sender, client, logger.Get())
	ctx := context.Background()

	t1 := time.Date(2025, 7, 2, 3, 0, 0, 0, time.UTC)
	batch := []analytics.AnomalyPoint{
		criticalPoint(1, "BTC", t1, 197.02),
		criticalPoint(2, "ETH", t1, -60),
	}

	require.NoError(t, n.NotifyCritical(ctx, batch))
	require.Len(t, sender.sent(), 1)
	assert.Contains(t, sender.sent()[0], "2 new")

	// The same snapshot window re-delivers the same rows on every refresh
	require.NoError(t, n.NotifyCritical(ctx, batch))
	assert.Len(t, sender.sent(), 1, "watermarked rows must not re-alert")

	// One currency moves past its watermark, the other does not
	t2 := t1.Add(2 * time.Hour)
	next := append(batch, criticalPoint(1, "BTC", t2, 80))
	require.NoError(t, n.NotifyCritical(ctx, next))

	texts := sender.sent()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "1 new")
	assert.Contains(t, texts[1], "2025-07-02 05:00 UTC")
}

func TestNotifier_RetriesAfterSendFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := testsupport.NewTestRedis(t)
	sender := &senderStub{}
	sender.fail(errors.New("telegram unreachable"))

	n := NewNotifier(sender, client, logger.Get())
	ctx := context.Background()

	batch := []analytics.AnomalyPoint{
		criticalPoint(1, "BTC", time.Date(2025, 7, 2, 3, 0, 0, 0, time.UTC), 197.02),
	}

	require.Error(t, n.NotifyCritical(ctx, batch))
	assert.Empty(t, sender.sent())

	// Watermark must not have advanced, so the next refresh retries
	sender.fail(nil)
	require.NoError(t, n.NotifyCritical(ctx, batch))
	assert.Len(t, sender.sent(), 1)
}

func TestNotifier_IgnoresNonCriticalRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := testsupport.NewTestRedis(t)
	sender := &senderStub{}
	n := NewNotifier(sender, client, logger.Get())

	warning := analytics.AnomalyPoint{
		Timestamp:  time.Date(2025, 7, 2, 3, 0, 0, 0, time.UTC),
		CurrencyID: 1,
		Symbol:     "BTC",
		IsAnomaly:  true,
		Severity:   analytics.SeverityWarning,
	}

	require.NoError(t, n.NotifyCritical(context.Background(), []analytics.AnomalyPoint{warning}))
	assert.Empty(t, sender.sent())
}
