package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// ScoredEvent is published for every observation run through the engine,
// carrying the merged layer records
type ScoredEvent struct {
	RequestID        string    `json:"request_id"`
	SubjectKey       string    `json:"subject_key"`
	MetricValue      float64   `json:"metric_value"`
	ObservedAt       string    `json:"observed_at"`
	Anomalous        bool      `json:"anomalous"`
	StaticUpperBound float64   `json:"static_upper_bound"`
	StaticLowerBound float64   `json:"static_lower_bound"`
	StaticAnomaly    int       `json:"static_anomaly"`
	ZScore           float64   `json:"zscore"`
	ZScoreAnomaly    int       `json:"zscore_anomaly"`
	Baseline         float64   `json:"baseline"`
	UpperBand        float64   `json:"upper_band"`
	LowerBand        float64   `json:"lower_band"`
	Residual         float64   `json:"residual"`
	ResidualZScore   float64   `json:"residual_zscore"`
	SeasonalAnomaly  int       `json:"seasonal_anomaly"`
	ResidualAnomaly  int       `json:"residual_anomaly"`
	DistanceScore    float64   `json:"distance_score"`
	DistanceAnomaly  int       `json:"distance_anomaly"`
	Features         []float64 `json:"features,omitempty"`
}

// PublishScoredEvent publishes a scored observation event
func (p *Publisher) PublishScoredEvent(ctx context.Context, event ScoredEvent, routingKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published scored event",
		zap.String("routing_key", routingKey),
		zap.String("subject_key", event.SubjectKey),
		zap.Bool("anomalous", event.Anomalous),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
