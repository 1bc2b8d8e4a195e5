// Package bootstrap wires the application: backing stores, repositories,
// the snapshot builder, the refresh worker, the ingestion consumer and the
// HTTP server. Components are grouped and initialized in dependency order.
package bootstrap

import (
	"context"
	"sync"

	chclient "barometer/internal/adapters/clickhouse"
	"barometer/internal/adapters/config"
	"barometer/internal/adapters/kafka"
	pgclient "barometer/internal/adapters/postgres"
	redisclient "barometer/internal/adapters/redis"
	"barometer/internal/api"
	"barometer/internal/api/health"
	"barometer/internal/api/ws"
	"barometer/internal/consumers"
	"barometer/internal/domain/analytics"
	"barometer/internal/domain/market"
	"barometer/internal/services/alerts"
	"barometer/internal/services/snapshot"
	"barometer/internal/workers"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure layer (data stores)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	// Domain layer
	Repos *Repositories

	// Derivation pipeline
	Builder  *snapshot.Builder
	Notifier *alerts.Notifier

	// Application layer
	Application *Application

	// Background processing
	Background *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups the store-backed repositories
type Repositories struct {
	Metrics    market.MetricStore
	Currencies market.CurrencyRepository
	Runs       market.RunLogRepository
	Cache      analytics.SnapshotCache
}

// Application groups the serving surface
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
	Hub           *ws.Hub
}

// Background groups the background processing components
type Background struct {
	Scheduler        *workers.Scheduler
	RefreshWorker    *workers.RefreshWorker
	SnapshotConsumer *consumers.SnapshotConsumer
	KafkaConsumer    *kafka.Consumer
}

// New builds the full dependency graph. Fails fast on any unreachable
// backing store; nothing is started yet.
func New(cfg *config.Config, log *logger.Logger, tracker errors.Tracker) (*Container, error) {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Container{
		Config:       cfg,
		Log:          log,
		ErrorTracker: tracker,
		Repos:        &Repositories{},
		Application:  &Application{},
		Background:   &Background{},
		Lifecycle:    NewLifecycle(),
		WG:           &sync.WaitGroup{},
		Context:      ctx,
		Cancel:       cancel,
	}

	for _, init := range []func() error{
		c.initInfrastructure,
		c.initRepositories,
		c.initAnalytics,
		c.initBackground,
		c.initApplication,
	} {
		if err := init(); err != nil {
			cancel()
			return nil, err
		}
	}

	return c, nil
}

// Start launches the background components: the WebSocket hub, the worker
// scheduler, the ingestion consumer and the HTTP server.
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		c.Application.Hub.Run(c.Context)
	}()

	if err := c.Background.Scheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "start worker scheduler")
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Background.SnapshotConsumer.Start(c.Context); err != nil && c.Context.Err() == nil {
			c.Log.Errorf("Snapshot consumer failed: %v", err)
			c.Cancel()
		}
	}()

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel()
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Signal every component to stop
	c.Cancel()

	c.Lifecycle.Shutdown(
		c.WG,
		c.Application.HTTPServer,
		c.Background.Scheduler,
		c.PG,
		c.CH,
		c.Redis,
		c.ErrorTracker,
		c.Log,
	)
}
