package consumers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"barometer/internal/adapters/kafka"
	"barometer/internal/domain/market"
	"barometer/internal/metrics"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

const handleTimeout = 30 * time.Second

// RefreshTrigger pokes the analytics refresh worker. Implemented by
// workers.RefreshWorker; nil disables the poke.
type RefreshTrigger interface {
	Trigger()
}

// providerAsset is one market object in a provider snapshot payload.
// Numbers decode through decimal so provider values survive intact;
// missing or null fields stay nil.
type providerAsset struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Name      string           `json:"name"`
	MaxSupply *decimal.Decimal `json:"max_supply"`
	Price     *decimal.Decimal `json:"current_price"`
	MarketCap *decimal.Decimal `json:"market_cap"`
	Volume    *decimal.Decimal `json:"total_volume"`
}

// SnapshotConsumer consumes provider market snapshots from Kafka, maintains
// the currency dimension and batch-inserts metric facts. Each message is one
// full snapshot: a JSON array of market objects observed at the message time.
type SnapshotConsumer struct {
	consumer   *kafka.Consumer
	store      market.MetricStore
	currencies market.CurrencyRepository
	runs       market.RunLogRepository
	refresh    RefreshTrigger
	limiter    *rate.Limiter
	topic      string
	log        *logger.Logger
}

// NewSnapshotConsumer creates a new snapshot consumer. The limiter caps how
// often a consumed snapshot may force an analytics refresh.
func NewSnapshotConsumer(
	consumer *kafka.Consumer,
	store market.MetricStore,
	currencies market.CurrencyRepository,
	runs market.RunLogRepository,
	refresh RefreshTrigger,
	limiter *rate.Limiter,
	topic string,
	log *logger.Logger,
) *SnapshotConsumer {
	return &SnapshotConsumer{
		consumer:   consumer,
		store:      store,
		currencies: currencies,
		runs:       runs,
		refresh:    refresh,
		limiter:    limiter,
		topic:      topic,
		log:        log.With("component", "snapshot_consumer"),
	}
}

// Start begins consuming snapshot messages until the context is cancelled
func (c *SnapshotConsumer) Start(ctx context.Context) error {
	c.log.Infow("Starting snapshot consumer", "topic", c.topic)

	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Errorw("Failed to close consumer", "error", err)
		}
	}()

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Infow("Snapshot consumer stopping")
				return nil
			}
			c.log.Errorw("Failed to read snapshot message", "error", err)
			continue
		}

		handleCtx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		err = c.handleMessage(handleCtx, msg)
		cancel()

		metrics.RecordKafkaMessage(c.topic, err)
		if err != nil {
			c.log.Errorw("Failed to handle snapshot",
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handleMessage ingests one provider snapshot: upserts the currency
// dimension, batch-inserts the facts and records a pipeline run
func (c *SnapshotConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	run, err := c.runs.Start(ctx, market.RunTypeSnapshotIngest)
	if err != nil {
		// Ingestion must not stall on bookkeeping
		c.log.Errorw("Failed to start pipeline run", "error", err)
	}

	inserted, rejected, err := c.ingest(ctx, msg)
	c.finishRun(ctx, run, inserted, rejected, err)

	metrics.RecordsIngested.WithLabelValues("inserted").Add(float64(inserted))
	metrics.RecordsIngested.WithLabelValues("rejected").Add(float64(rejected))

	if err != nil {
		return err
	}

	c.log.Infow("Snapshot ingested",
		"records", inserted,
		"rejected", rejected,
		"observed_at", observationTime(msg),
	)

	if c.refresh != nil && c.limiter.Allow() {
		c.refresh.Trigger()
	}

	return nil
}

func (c *SnapshotConsumer) ingest(ctx context.Context, msg kafkago.Message) (inserted, rejected int64, err error) {
	var assets []providerAsset
	if err := json.Unmarshal(msg.Value, &assets); err != nil {
		return 0, 0, errors.Wrapf(errors.ErrConsumerDecode, "snapshot payload: %v", err)
	}

	observedAt := observationTime(msg)
	records := make([]market.MetricRecord, 0, len(assets))

	for _, asset := range assets {
		if asset.ID == "" || asset.Symbol == "" {
			rejected++
			c.log.Warnw("Skipping malformed snapshot entry",
				"provider_id", asset.ID,
				"symbol", asset.Symbol,
			)
			continue
		}

		currency, err := c.currencies.Upsert(ctx, &market.Currency{
			ProviderID: asset.ID,
			Symbol:     strings.ToUpper(asset.Symbol),
			Name:       assetName(asset),
			MaxSupply:  nullDecimal(asset.MaxSupply),
		})
		if err != nil {
			rejected++
			c.log.Errorw("Failed to upsert currency",
				"provider_id", asset.ID,
				"error", err,
			)
			continue
		}

		records = append(records, market.MetricRecord{
			CurrencyID:   currency.ID,
			Timestamp:    observedAt,
			PriceUSD:     decimalToFloat(asset.Price),
			MarketCapUSD: decimalToFloat(asset.MarketCap),
			Volume24hUSD: decimalToFloat(asset.Volume),
		})
	}

	if err := c.store.InsertMetrics(ctx, records); err != nil {
		return 0, rejected, errors.Wrap(err, "insert snapshot records")
	}

	return int64(len(records)), rejected, nil
}

func (c *SnapshotConsumer) finishRun(ctx context.Context, run *market.PipelineRun, inserted, rejected int64, ingestErr error) {
	if run == nil {
		return
	}

	status := market.RunStatusSuccess
	if ingestErr != nil {
		status = market.RunStatusFailed
	}

	if err := c.runs.Finish(ctx, run.ID, status, inserted, rejected, ingestErr); err != nil {
		c.log.Errorw("Failed to finish pipeline run", "run_id", run.ID, "error", err)
	}
}

// observationTime stamps a snapshot with the message time truncated to the
// minute, so a re-delivered message lands on the same fact row
func observationTime(msg kafkago.Message) time.Time {
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Truncate(time.Minute)
}

func assetName(asset providerAsset) string {
	if asset.Name != "" {
		return asset.Name
	}
	return strings.ToUpper(asset.Symbol)
}

func decimalToFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
