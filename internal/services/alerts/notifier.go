package alerts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"barometer/internal/domain/analytics"
	"barometer/pkg/logger"
)

// watermarkKey is the Redis hash holding the last alerted observation time
// per currency (field: currency id, value: unix seconds)
const watermarkKey = "alerts:critical:watermark"

// maxAlertLines bounds one alert message; older rows collapse into a count
const maxAlertLines = 10

// Sender abstracts alert delivery so the notifier can run against a stub
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Notifier forwards critical anomaly rows to an alert channel. A
// per-currency watermark in Redis keeps recomputed snapshots, which carry
// the full trailing window every refresh, from re-alerting old rows.
type Notifier struct {
	sender Sender
	redis  *redis.Client
	log    *logger.Logger
}

// NewNotifier creates the alert notifier. A nil sender disables alerting;
// NotifyCritical then returns immediately.
func NewNotifier(sender Sender, redisClient *redis.Client, log *logger.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		redis:  redisClient,
		log:    log.With("component", "alerts"),
	}
}

// Enabled reports whether alerts are configured
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil
}

// NotifyCritical sends one message covering the critical rows not yet
// alerted, then advances the watermark. The watermark moves only after a
// successful send, so delivery failures retry on the next refresh.
func (n *Notifier) NotifyCritical(ctx context.Context, anomalies []analytics.AnomalyPoint) error {
	if !n.Enabled() {
		return nil
	}

	fresh := n.filterNew(ctx, anomalies)
	if len(fresh) == 0 {
		return nil
	}

	if err := n.sender.Send(ctx, formatAlert(fresh)); err != nil {
		return err
	}

	n.advanceWatermark(ctx, fresh)
	n.log.Infow("Critical anomaly alert sent", "rows", len(fresh))
	return nil
}

// filterNew keeps critical rows newer than the currency's watermark. When
// the watermark cannot be read, every row counts as new; a duplicate alert
// is better than a silent miss.
func (n *Notifier) filterNew(ctx context.Context, anomalies []analytics.AnomalyPoint) []analytics.AnomalyPoint {
	watermarks, err := n.redis.HGetAll(ctx, watermarkKey).Result()
	if err != nil {
		n.log.Errorw("Failed to read alert watermark", "error", err)
		watermarks = map[string]string{}
	}

	var fresh []analytics.AnomalyPoint
	for _, a := range anomalies {
		if !a.IsCritical {
			continue
		}
		if raw, ok := watermarks[strconv.FormatInt(a.CurrencyID, 10)]; ok {
			if wm, err := strconv.ParseInt(raw, 10, 64); err == nil && !a.Timestamp.After(time.Unix(wm, 0).UTC()) {
				continue
			}
		}
		fresh = append(fresh, a)
	}
	return fresh
}

func (n *Notifier) advanceWatermark(ctx context.Context, sent []analytics.AnomalyPoint) {
	next := make(map[string]interface{}, len(sent))
	for _, a := range sent {
		field := strconv.FormatInt(a.CurrencyID, 10)
		ts := a.Timestamp.Unix()
		if cur, ok := next[field]; !ok || ts > cur.(int64) {
			next[field] = ts
		}
	}

	if err := n.redis.HSet(ctx, watermarkKey, next).Err(); err != nil {
		n.log.Errorw("Failed to advance alert watermark", "error", err)
	}
}

func formatAlert(anomalies []analytics.AnomalyPoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Critical market anomalies* — %d new", len(anomalies))

	shown := anomalies
	if len(shown) > maxAlertLines {
		shown = shown[len(shown)-maxAlertLines:]
	}
	for _, a := range shown {
		fmt.Fprintf(&b, "\n• *%s* %s — return %+.2f%%, price z %s, volume z %s",
			a.Symbol,
			a.Timestamp.Format("2006-01-02 15:04 UTC"),
			a.HourlyReturnPct,
			zText(a.PriceZScore),
			zText(a.VolumeZScore),
		)
	}
	if hidden := len(anomalies) - len(shown); hidden > 0 {
		fmt.Fprintf(&b, "\n…and %d earlier rows", hidden)
	}
	return b.String()
}

func zText(z *float64) string {
	if z == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *z)
}
