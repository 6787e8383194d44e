package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/regionpulse/stress-anomaly-worker/internal/anomaly"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Anomaly     anomaly.EngineConfig
	Warmup      WarmupConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL              string
	Heartbeat        time.Duration
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	WorkerExchange   string
	WorkerRoutingKey string
	DLQQueue         string
	PrefetchCount    int
}

// WarmupConfig holds history-replay settings
type WarmupConfig struct {
	Enabled   bool
	MaxValues int
}

// Load loads configuration from environment variables. An unparseable
// value is a fatal misconfiguration, not a silent fallback to the default.
func Load() (*Config, error) {
	env := &envReader{}

	cfg := &Config{
		ServiceName: env.str("SERVICE_NAME", "stress-anomaly-worker"),
		ServicePort: env.intVal("SERVICE_PORT", 8082),
		Database: DatabaseConfig{
			URL:      env.str("DATABASE_URL", ""),
			MaxConns: env.intVal("DATABASE_MAX_CONNS", 8),
			MinConns: env.intVal("DATABASE_MIN_CONNS", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              env.str("RABBITMQ_URL", ""),
			Heartbeat:        env.duration("RABBITMQ_HEARTBEAT", 10*time.Second),
			IngestExchange:   env.str("RABBITMQ_INGEST_EXCHANGE", "stress-monitor.ingest.exchange"),
			IngestQueue:      env.str("RABBITMQ_INGEST_QUEUE", "stress-monitor.ingest.queue"),
			IngestRoutingKey: env.str("RABBITMQ_INGEST_ROUTING_KEY", "stress.observation.raw"),
			WorkerExchange:   env.str("RABBITMQ_WORKER_EXCHANGE", "stress-monitor.worker.events.exchange"),
			WorkerRoutingKey: env.str("RABBITMQ_WORKER_ROUTING_KEY", "stress.observation.scored"),
			DLQQueue:         env.str("RABBITMQ_DLQ_QUEUE", "stress-monitor.ingest.dlq"),
			PrefetchCount:    env.intVal("RABBITMQ_PREFETCH", 10),
		},
		Anomaly: anomaly.EngineConfig{
			Static: anomaly.StaticConfig{
				WindowSize:     env.intVal("ANOMALY_WINDOW_SIZE", anomaly.DefaultWindowSize),
				PercentileLow:  env.floatVal("ANOMALY_PERCENTILE_LOW", anomaly.DefaultPercentileLow),
				PercentileHigh: env.floatVal("ANOMALY_PERCENTILE_HIGH", anomaly.DefaultPercentileHigh),
				ZScoreK:        env.floatVal("ANOMALY_ZSCORE_K", anomaly.DefaultZScoreK),
			},
			Seasonal: anomaly.SeasonalConfig{
				WindowSize: env.intVal("ANOMALY_WINDOW_SIZE", anomaly.DefaultWindowSize),
				EWMAAlpha:  env.floatVal("ANOMALY_EWMA_ALPHA", anomaly.DefaultEWMAAlpha),
				BandK:      env.floatVal("ANOMALY_BAND_K", anomaly.DefaultBandK),
				ResidualK:  env.floatVal("ANOMALY_RESIDUAL_K", anomaly.DefaultResidualK),
			},
			Distance: anomaly.DistanceConfig{
				WindowSize:        env.intVal("ANOMALY_WINDOW_SIZE", anomaly.DefaultWindowSize),
				DistanceThreshold: env.floatVal("ANOMALY_DISTANCE_THRESHOLD", anomaly.DefaultDistanceThreshold),
			},
			MaxSubjects: env.intVal("ANOMALY_MAX_SUBJECTS", 0),
			SubjectTTL:  env.duration("ANOMALY_SUBJECT_TTL", 0),
		},
		Warmup: WarmupConfig{
			Enabled:   env.boolVal("WARMUP_REPLAY_ENABLED", true),
			MaxValues: env.intVal("WARMUP_MAX_VALUES", anomaly.DefaultWindowSize),
		},
	}

	if env.err != nil {
		return nil, env.err
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Database.MaxConns < 1 || cfg.Database.MinConns < 0 || cfg.Database.MinConns > cfg.Database.MaxConns {
		return nil, fmt.Errorf("invalid database pool bounds: min %d, max %d", cfg.Database.MinConns, cfg.Database.MaxConns)
	}

	// Tracker thresholds must fail here, not at first update
	if err := cfg.Anomaly.Static.Validate(); err != nil {
		return nil, fmt.Errorf("invalid anomaly config: %w", err)
	}
	if err := cfg.Anomaly.Seasonal.Validate(); err != nil {
		return nil, fmt.Errorf("invalid anomaly config: %w", err)
	}
	if err := cfg.Anomaly.Distance.Validate(); err != nil {
		return nil, fmt.Errorf("invalid anomaly config: %w", err)
	}
	if cfg.Warmup.MaxValues < 0 {
		return nil, fmt.Errorf("WARMUP_MAX_VALUES must be >= 0, got %d", cfg.Warmup.MaxValues)
	}

	return cfg, nil
}

// envReader reads environment variables and records the first value that
// fails to parse
type envReader struct {
	err error
}

func (r *envReader) fail(key, value, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("%s=%q is not a valid %s", key, value, want)
	}
}

func (r *envReader) str(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) intVal(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		r.fail(key, valueStr, "integer")
		return defaultValue
	}
	return value
}

func (r *envReader) floatVal(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		r.fail(key, valueStr, "number")
		return defaultValue
	}
	return value
}

func (r *envReader) boolVal(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		r.fail(key, valueStr, "boolean")
		return defaultValue
	}
	return value
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		r.fail(key, valueStr, "duration")
		return defaultValue
	}
	return value
}
