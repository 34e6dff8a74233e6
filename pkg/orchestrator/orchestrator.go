// Package orchestrator wires the bridge together and owns its lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/config"
	"github.com/erpbridge/erpbridge/pkg/connector"
	"github.com/erpbridge/erpbridge/pkg/connector/odoo"
	"github.com/erpbridge/erpbridge/pkg/correlation"
	"github.com/erpbridge/erpbridge/pkg/dispatch"
	"github.com/erpbridge/erpbridge/pkg/mapping"
	"github.com/erpbridge/erpbridge/pkg/model"
	"github.com/erpbridge/erpbridge/pkg/pipeline"
	"github.com/erpbridge/erpbridge/pkg/store"
	"github.com/erpbridge/erpbridge/pkg/store/memory"
	"github.com/erpbridge/erpbridge/pkg/store/postgres"
	redisclient "github.com/erpbridge/erpbridge/pkg/store/redis"
	"github.com/erpbridge/erpbridge/pkg/syncer"
	"github.com/erpbridge/erpbridge/pkg/transport"
	"github.com/erpbridge/erpbridge/pkg/transport/push"
	"github.com/erpbridge/erpbridge/pkg/transport/webhook"
)

// Option overrides a collaborator, mainly so tests can plug in fakes.
type Option func(*Bridge)

func WithConnector(conn connector.Connector) Option {
	return func(b *Bridge) { b.conn = conn }
}

func WithStore(st store.EventStore) Option {
	return func(b *Bridge) { b.store = st }
}

func WithRegistry(registry correlation.Registry) Option {
	return func(b *Bridge) { b.registry = registry }
}

type Bridge struct {
	cfg    *config.Config
	logger *zap.Logger

	conn     connector.Connector
	store    store.EventStore
	registry correlation.Registry

	db         *postgres.Store
	redis      *redisclient.Client
	pipe       *pipeline.Pipeline
	syncer     *syncer.Syncer
	transports []transport.Transport

	running     atomic.Bool
	sweepCancel context.CancelFunc
}

func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start brings the bridge up: storage, target connection, dispatch pipeline,
// transports, then the catch-up and sweep passes. A connector that cannot
// authenticate fails the whole start.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := b.initStore(); err != nil {
		b.running.Store(false)
		return err
	}

	if b.conn == nil {
		b.conn = odoo.NewClient(b.cfg.Odoo, b.logger)
	}
	if err := b.conn.Connect(ctx); err != nil {
		b.running.Store(false)
		return fmt.Errorf("connect to target system: %w", err)
	}

	if err := b.initRegistry(); err != nil {
		b.running.Store(false)
		return err
	}

	mapper := mapping.NewMapper(b.conn, b.logger)
	dispatcher := dispatch.New(b.store, b.conn, b.registry, mapper, b.logger)

	b.pipe = pipeline.New(dispatcher, b.cfg.Queue.Capacity, b.cfg.Queue.BatchConcurrency, b.logger)
	b.pipe.Start(ctx)

	b.syncer = syncer.New(
		b.store,
		dispatcher,
		b.cfg.Sync.MaxRetries,
		b.cfg.Sync.PageSize,
		b.cfg.Sync.Retention(),
		b.logger,
	)

	if err := b.startTransports(ctx); err != nil {
		b.running.Store(false)
		return err
	}

	// drain anything a previous run left pending before new events arrive
	if report, err := b.syncer.ProcessPending(ctx); err != nil {
		b.logger.Error("pending catch-up failed", zap.Error(err))
	} else if report.Total > 0 {
		b.logger.Info("recovered pending events",
			zap.Int("total", report.Total),
			zap.Int("success", report.Success),
		)
	}

	if b.cfg.Sync.SweepsEnabled {
		sweepCtx, cancel := context.WithCancel(context.Background())
		b.sweepCancel = cancel
		go b.syncer.RunSweeps(sweepCtx, b.cfg.Sync.RetryInterval, b.cfg.Sync.CleanupInterval)
	}

	b.logger.Info("bridge started",
		zap.String("storage", b.cfg.Storage.Driver),
		zap.Bool("push", b.cfg.Push.Enabled),
		zap.Bool("webhook", b.cfg.Webhook.Enabled),
	)
	return nil
}

func (b *Bridge) initStore() error {
	if b.store != nil {
		return nil
	}
	switch b.cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.NewStore(&b.cfg.Database)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		if err := db.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate event table: %w", err)
		}
		b.db = db
		b.store = postgres.NewEventRepository(db.DB())
	case "memory", "":
		b.store = memory.NewStore()
	default:
		return fmt.Errorf("unknown storage driver %q", b.cfg.Storage.Driver)
	}
	return nil
}

func (b *Bridge) initRegistry() error {
	if b.registry != nil {
		return nil
	}
	var registry correlation.Registry = correlation.NewConnectorRegistry(b.conn, b.logger)

	if b.cfg.Redis.Enabled {
		client, err := redisclient.NewClient(&b.cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		b.redis = client
		registry = correlation.NewCachedRegistry(registry, client.Client(), b.cfg.Redis.CacheTTL, b.logger)
		b.logger.Info("correlation cache enabled")
	}

	b.registry = registry
	return nil
}

func (b *Bridge) startTransports(ctx context.Context) error {
	sink := transport.Sink(b.Enqueue)

	if b.cfg.Push.Enabled {
		b.transports = append(b.transports, push.NewClient(&b.cfg.Push, sink, b.logger))
	}
	if b.cfg.Webhook.Enabled {
		b.transports = append(b.transports, webhook.NewServer(&b.cfg.Webhook, &b.cfg.Auth, sink, b, b.logger))
	}

	for _, t := range b.transports {
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("start %s transport: %w", t.Name(), err)
		}
		b.logger.Info("transport started", zap.String("transport", t.Name()))
	}
	return nil
}

// Enqueue feeds one envelope into the pipeline. Transports use it as their
// sink.
func (b *Bridge) Enqueue(evt *model.Event) error {
	if !b.running.Load() {
		return pipeline.ErrNotRunning
	}
	return b.pipe.Enqueue(evt)
}

// Stop shuts the bridge down in reverse order: intake first, then the
// pipeline drain, then the outbound connections.
func (b *Bridge) Stop(ctx context.Context) error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}

	for _, t := range b.transports {
		if err := t.Stop(ctx); err != nil {
			b.logger.Error("failed to stop transport",
				zap.String("transport", t.Name()),
				zap.Error(err),
			)
		}
	}
	b.transports = nil

	if b.sweepCancel != nil {
		b.sweepCancel()
		b.sweepCancel = nil
	}

	if b.pipe != nil {
		if err := b.pipe.Stop(ctx); err != nil {
			b.logger.Error("failed to drain pipeline", zap.Error(err))
		}
	}

	if b.conn != nil {
		if err := b.conn.Disconnect(ctx); err != nil {
			b.logger.Error("failed to disconnect connector", zap.Error(err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.logger.Error("failed to close redis", zap.Error(err))
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			b.logger.Error("failed to close database", zap.Error(err))
		}
	}

	b.logger.Info("bridge stopped")
	return nil
}

// Status implements the admin API's view of the bridge.
func (b *Bridge) Status() webhook.BridgeStatus {
	status := webhook.BridgeStatus{
		Running:    b.running.Load(),
		Transports: make(map[string]bool),
	}
	if b.conn != nil {
		status.Connected = b.conn.IsConnected(context.Background())
	}
	if b.pipe != nil {
		status.QueueDepth = b.pipe.Depth()
	}
	for _, t := range b.transports {
		status.Transports[t.Name()] = t.IsConnected()
	}
	return status
}

func (b *Bridge) FullSync(ctx context.Context, entity model.EntityType, records []map[string]interface{}) syncer.Report {
	return b.syncer.FullSync(ctx, entity, records)
}

func (b *Bridge) IncrementalSync(ctx context.Context, entity model.EntityType, since time.Time) (syncer.Report, error) {
	return b.syncer.IncrementalSync(ctx, entity, since)
}

func (b *Bridge) RetryFailed(ctx context.Context) (syncer.Report, error) {
	return b.syncer.RetryFailed(ctx)
}

func (b *Bridge) Cleanup(ctx context.Context) (int64, error) {
	return b.syncer.Cleanup(ctx)
}

var _ webhook.Controller = (*Bridge)(nil)
