package main

import (
	"context"

	"github.com/regionpulse/stress-anomaly-worker/internal/anomaly"
	"github.com/regionpulse/stress-anomaly-worker/internal/config"
	"github.com/regionpulse/stress-anomaly-worker/internal/db"
	"github.com/regionpulse/stress-anomaly-worker/internal/metrics"
	"github.com/regionpulse/stress-anomaly-worker/internal/mq"
	"github.com/regionpulse/stress-anomaly-worker/internal/repository"
	"github.com/regionpulse/stress-anomaly-worker/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.ProcessorService,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.IngestQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.IngestExchange,
		RoutingKey:       cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting worker consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

func startMetricsServer(lc fx.Lifecycle, logger *zap.Logger, m *metrics.Metrics, cfg *config.Config) {
	metrics.StartServer(lc, logger, m, cfg.ServicePort)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideAnomalyEngine creates the three-layer anomaly engine
func ProvideAnomalyEngine(cfg *config.Config) (*anomaly.Engine, error) {
	return anomaly.NewEngine(cfg.Anomaly)
}

// ProvideMetrics creates the worker's prometheus collectors
func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.WorkerExchange, logger)
}

// ProvideProcessorService creates a new processor service instance
func ProvideProcessorService(
	repo *repository.Repository,
	publisher *mq.Publisher,
	engine *anomaly.Engine,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(repo, publisher, engine, m, cfg, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, db.PoolSettings{
		ServiceName: cfg.ServiceName,
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
	})
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, mq.ConnectionSettings{
		ServiceName: cfg.ServiceName,
		URL:         cfg.RabbitMQ.URL,
		Heartbeat:   cfg.RabbitMQ.Heartbeat,
	})
}
