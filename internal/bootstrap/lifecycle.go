package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "barometer/internal/adapters/clickhouse"
	pgclient "barometer/internal/adapters/postgres"
	redisclient "barometer/internal/adapters/redis"
	"barometer/internal/api"
	"barometer/internal/workers"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager. The timeout covers a
// refresh cycle that recomputes every dataset over the full history.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 3 * time.Minute,
	}
}

// Shutdown performs coordinated cleanup in order: stop accepting requests,
// let the workers finish, wait for background goroutines (the consumer
// unblocks on the already-cancelled container context), flush tracking,
// and close the store connections last.
func (l *Lifecycle) Shutdown(
	wg *sync.WaitGroup,
	httpServer *api.Server,
	scheduler *workers.Scheduler,
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/5] Stopping HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	if err := httpServer.Shutdown(httpCtx); err != nil {
		log.Errorw("HTTP server shutdown failed", "error", err)
	} else {
		log.Info("✓ HTTP server stopped")
	}
	httpCancel()

	log.Info("[2/5] Stopping background workers...")
	if err := scheduler.Stop(); err != nil {
		log.Errorw("Workers shutdown failed", "error", err)
	} else {
		log.Info("✓ Workers stopped")
	}

	log.Info("[3/5] Waiting for background goroutines...")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("✓ Background goroutines finished")
	case <-shutdownCtx.Done():
		log.Warn("Timed out waiting for background goroutines")
	}

	log.Info("[4/5] Flushing error tracker...")
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := errorTracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
	flushCancel()

	log.Info("[5/5] Closing store connections...")
	if err := redisClient.Close(); err != nil {
		log.Errorw("Redis close failed", "error", err)
	}
	if err := chClient.Close(); err != nil {
		log.Errorw("ClickHouse close failed", "error", err)
	}
	if err := pgClient.Close(); err != nil {
		log.Errorw("PostgreSQL close failed", "error", err)
	}

	log.Info("✓ Graceful shutdown complete")
}
