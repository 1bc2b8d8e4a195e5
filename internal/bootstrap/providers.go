package bootstrap

import (
	"time"

	"golang.org/x/time/rate"

	chclient "barometer/internal/adapters/clickhouse"
	"barometer/internal/adapters/kafka"
	pgclient "barometer/internal/adapters/postgres"
	redisclient "barometer/internal/adapters/redis"
	"barometer/internal/api"
	"barometer/internal/api/datasets"
	"barometer/internal/api/health"
	"barometer/internal/api/ws"
	"barometer/internal/consumers"
	"barometer/internal/metrics"
	chrepo "barometer/internal/repository/clickhouse"
	pgrepo "barometer/internal/repository/postgres"
	redisrepo "barometer/internal/repository/redis"
	"barometer/internal/services/alerts"
	"barometer/internal/services/snapshot"
	"barometer/internal/workers"
	"barometer/pkg/errors"
)

// initInfrastructure connects the three backing stores
func (c *Container) initInfrastructure() error {
	pg, err := pgclient.NewClient(c.Config.Postgres)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	c.PG = pg
	c.Log.Info("✓ PostgreSQL connected")

	ch, err := chclient.NewClient(c.Config.ClickHouse)
	if err != nil {
		return errors.Wrap(err, "connect clickhouse")
	}
	c.CH = ch
	c.Log.Info("✓ ClickHouse connected")

	rd, err := redisclient.NewClient(c.Config.Redis)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	c.Redis = rd
	c.Log.Info("✓ Redis connected")

	return nil
}

// initRepositories builds the repositories over the connected stores
func (c *Container) initRepositories() error {
	c.Repos.Metrics = chrepo.NewMetricStore(c.CH.Conn())
	c.Repos.Currencies = pgrepo.NewCurrencyRepository(c.PG.DB())
	c.Repos.Runs = pgrepo.NewRunLogRepository(c.PG.DB())
	c.Repos.Cache = redisrepo.NewSnapshotCache(c.Redis.Client())
	return nil
}

// initAnalytics wires the snapshot builder and, when configured, the
// critical-anomaly alert channel
func (c *Container) initAnalytics() error {
	c.Builder = snapshot.NewBuilder(
		c.Repos.Metrics,
		c.Repos.Currencies,
		snapshot.Config{
			TopN:              c.Config.Analytics.TopN,
			CorrelationWindow: time.Duration(c.Config.Analytics.CorrelationWindowDays) * 24 * time.Hour,
			AnomalyLookback:   time.Duration(c.Config.Analytics.AnomalyLookbackDays) * 24 * time.Hour,
		},
		c.Log,
	)

	var sender alerts.Sender
	if c.Config.Alerts.Enabled {
		tg, err := alerts.NewTelegramSender(c.Config.Alerts.BotToken, c.Config.Alerts.ChatID)
		if err != nil {
			return errors.Wrap(err, "init telegram alert sender")
		}
		sender = tg
		c.Log.Info("✓ Critical anomaly alerts enabled")
	}
	c.Notifier = alerts.NewNotifier(sender, c.Redis.Client(), c.Log)

	return nil
}

// initBackground wires the refresh worker, its scheduler and the
// ingestion consumer
func (c *Container) initBackground() error {
	c.Application.Hub = ws.NewHub(c.Log)

	c.Background.RefreshWorker = workers.NewRefreshWorker(
		c.Repos.Metrics,
		c.Builder,
		c.Repos.Cache,
		c.Repos.Runs,
		c.Application.Hub,
		c.Notifier,
		workers.RefreshConfig{
			Interval: c.Config.Workers.RefreshInterval,
			Enabled:  c.Config.Workers.RefreshEnabled,
			CacheTTL: c.Config.Redis.ReportTTL,
		},
	)

	c.Background.Scheduler = workers.NewScheduler()
	c.Background.Scheduler.RegisterWorker(c.Background.RefreshWorker)

	c.Background.KafkaConsumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: c.Config.Kafka.Brokers,
		GroupID: c.Config.Kafka.GroupID,
		Topic:   c.Config.Kafka.SnapshotTopic,
	})

	// A consumed snapshot may force at most one refresh per throttle window
	limiter := rate.NewLimiter(rate.Every(c.Config.Analytics.RefreshThrottle), 1)

	c.Background.SnapshotConsumer = consumers.NewSnapshotConsumer(
		c.Background.KafkaConsumer,
		c.Repos.Metrics,
		c.Repos.Currencies,
		c.Repos.Runs,
		c.Background.RefreshWorker,
		limiter,
		c.Config.Kafka.SnapshotTopic,
		c.Log,
	)

	return nil
}

// initApplication wires the HTTP surface
func (c *Container) initApplication() error {
	metrics.RegisterWarehouseCollector(metrics.NewWarehouseCollector(
		c.Log,
		c.PG.DB(),
		c.CH.Conn(),
		c.Redis.Client(),
	))

	c.Application.HealthHandler = health.New(
		c.Log,
		c.PG.DB(),
		c.CH.Conn(),
		c.Redis.Client(),
		c.Config.App.Name,
		c.Config.App.Version,
	)

	dataHandler := datasets.New(
		c.Repos.Cache,
		c.Builder,
		c.Config.Redis.ReportTTL,
		c.Config.API.MaxRows,
		c.Log,
	)

	c.Application.HTTPServer = api.NewServer(
		api.ServerConfig{
			Port:         c.Config.API.Port,
			ServiceName:  c.Config.App.Name,
			Version:      c.Config.App.Version,
			ReadTimeout:  c.Config.API.ReadTimeout,
			WriteTimeout: c.Config.API.WriteTimeout,
		},
		c.Application.HealthHandler,
		dataHandler,
		c.Application.Hub,
		c.Log,
	)

	return nil
}
