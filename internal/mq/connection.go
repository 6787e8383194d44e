package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps the broker connection shared by the ingest consumer
// and the scored-event publisher
type Connection struct {
	conn *amqp.Connection
}

// ConnectionSettings identifies the worker to the broker
type ConnectionSettings struct {
	ServiceName string
	URL         string
	Heartbeat   time.Duration
}

// NewConnection dials the broker with the worker's name and heartbeat so
// the connection is identifiable in the management UI and half-open links
// are detected
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, settings ConnectionSettings) (*Connection, error) {
	logger.Info("connecting to broker",
		zap.Duration("heartbeat", settings.Heartbeat),
	)

	conn, err := amqp.DialConfig(settings.URL, amqp.Config{
		Heartbeat: settings.Heartbeat,
		Properties: amqp.Table{
			"connection_name": settings.ServiceName,
		},
	})
	if err != nil {
		logger.Error("broker connection failed", zap.Error(err))
		return nil, fmt.Errorf("broker unreachable (check that RabbitMQ is running and RABBITMQ_URL is correct): %w", err)
	}

	mqConn := &Connection{conn: conn}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("broker connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close broker connection", zap.Error(err))
				return err
			}
			logger.Info("broker connection closed")
			return nil
		},
	})

	return mqConn, nil
}

// Channel creates a new channel on the shared connection
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}
