package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/regionpulse/stress-anomaly-worker/internal/anomaly"
	"github.com/regionpulse/stress-anomaly-worker/internal/config"
	"github.com/regionpulse/stress-anomaly-worker/internal/db"
	"github.com/regionpulse/stress-anomaly-worker/internal/logging"
	"github.com/regionpulse/stress-anomaly-worker/internal/metrics"
	"github.com/regionpulse/stress-anomaly-worker/internal/mq"
	"go.uber.org/zap"
)

// ObservationMessage is the incoming observation from the ingestion
// pipeline, one per subject per interval
type ObservationMessage struct {
	RequestID  string    `json:"request_id"`
	SubjectKey string    `json:"subject_key"`
	ObservedAt time.Time `json:"observed_at"`
	Value      float64   `json:"value"`
	Features   []float64 `json:"features,omitempty"`
	Source     string    `json:"source"`
}

// ObservationStore persists scored observations and serves per-subject
// history for warm-up replay. *repository.Repository implements it.
type ObservationStore interface {
	SaveScoredObservation(ctx context.Context, obs *db.StressObservation, rec *db.AnomalyRecord) error
	RecentObservations(ctx context.Context, subjectKey string, limit int) ([]db.StressObservation, error)
}

// EventPublisher emits scored events downstream. *mq.Publisher implements
// it.
type EventPublisher interface {
	PublishScoredEvent(ctx context.Context, event mq.ScoredEvent, routingKey string) error
}

// ProcessorService runs observations through the anomaly engine,
// persists the raw reading and its scores, and publishes the result
type ProcessorService struct {
	store     ObservationStore
	publisher EventPublisher
	engine    *anomaly.Engine
	metrics   *metrics.Metrics
	cfg       *config.Config
	logger    *zap.Logger

	warmMu sync.Mutex
	warmed map[string]struct{}
}

// NewProcessorService creates a new processor service
func NewProcessorService(
	store ObservationStore,
	publisher EventPublisher,
	engine *anomaly.Engine,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *ProcessorService {
	return &ProcessorService{
		store:     store,
		publisher: publisher,
		engine:    engine,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		warmed:    make(map[string]struct{}),
	}
}

// ProcessMessage decodes an incoming observation message and scores it.
// Structurally malformed messages are rejected to the DLQ.
func (s *ProcessorService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg ObservationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.SubjectKey == "" {
		return fmt.Errorf("observation message is missing subject_key")
	}
	return s.ProcessObservation(ctx, msg)
}

// ProcessObservation runs one observation through warm-up, the engine,
// persistence and publishing. Non-finite values score as the neutral
// result (fail-open) rather than erroring.
func (s *ProcessorService) ProcessObservation(ctx context.Context, msg ObservationMessage) error {
	if msg.ObservedAt.IsZero() {
		msg.ObservedAt = time.Now().UTC()
	}

	reqLogger := logging.WithSubject(logging.WithRequestID(s.logger, msg.RequestID), msg.SubjectKey)
	reqLogger.Info("processing observation",
		zap.Float64("value", msg.Value),
		zap.Int("feature_count", len(msg.Features)),
	)

	s.warmupSubject(ctx, msg.SubjectKey, reqLogger)

	if !finiteObservation(msg.Value, msg.Features) {
		s.metrics.InvalidObservations.Inc()
		reqLogger.Warn("observation contains non-finite values, scoring fails open")
	}

	result := s.engine.Update(msg.SubjectKey, msg.Value, msg.Features)
	s.metrics.ObservationsProcessed.Inc()
	s.countAnomalies(result)

	if result.Anomalous() {
		reqLogger.Info("anomaly detected",
			zap.Int("static", result.StaticAnomaly),
			zap.Int("zscore", result.ZScoreAnomaly),
			zap.Int("seasonal", result.SeasonalAnomaly),
			zap.Int("residual", result.ResidualAnomaly),
			zap.Int("distance", result.Anomaly),
			zap.Float64("distance_score", result.Score),
		)
	}

	if err := s.persist(ctx, &msg, result); err != nil {
		reqLogger.Error("failed to persist observation", zap.Error(err))
		return err
	}

	// Publish after commit; a publish failure must not requeue the message
	event := scoredEvent(&msg, result)
	if err := s.publisher.PublishScoredEvent(ctx, event, s.cfg.RabbitMQ.WorkerRoutingKey); err != nil {
		reqLogger.Error("failed to publish scored event", zap.Error(err))
	}

	return nil
}

// warmupSubject replays persisted history through the engine the first
// time a subject is seen after process start, restoring the window and
// baseline state lost on restart
func (s *ProcessorService) warmupSubject(ctx context.Context, subjectKey string, logger *zap.Logger) {
	if !s.cfg.Warmup.Enabled || s.cfg.Warmup.MaxValues == 0 {
		return
	}

	s.warmMu.Lock()
	if _, done := s.warmed[subjectKey]; done {
		s.warmMu.Unlock()
		return
	}
	// Mark before replaying so a failed load is not retried per message
	s.warmed[subjectKey] = struct{}{}
	s.warmMu.Unlock()

	history, err := s.store.RecentObservations(ctx, subjectKey, s.cfg.Warmup.MaxValues)
	if err != nil {
		logger.Warn("failed to load history for warm-up replay", zap.Error(err))
		return
	}
	if len(history) == 0 {
		return
	}

	for _, obs := range history {
		s.engine.Update(subjectKey, obs.MetricValue, obs.Features)
	}
	s.metrics.WarmupReplays.Inc()

	logger.Info("replayed persisted history",
		zap.Int("observations", len(history)),
	)
}

func (s *ProcessorService) persist(ctx context.Context, msg *ObservationMessage, result anomaly.Result) error {
	obs := &db.StressObservation{
		SubjectKey:  msg.SubjectKey,
		MetricValue: msg.Value,
		Features:    msg.Features,
		ObservedAt:  msg.ObservedAt,
		ReceivedAt:  time.Now().UTC(),
		Source:      msg.Source,
	}

	rec := &db.AnomalyRecord{
		SubjectKey:       msg.SubjectKey,
		ObservedAt:       msg.ObservedAt,
		StaticUpperBound: result.StaticUpperBound,
		StaticLowerBound: result.StaticLowerBound,
		StaticAnomaly:    result.StaticAnomaly,
		ZScore:           result.ZScore,
		ZScoreAnomaly:    result.ZScoreAnomaly,
		Baseline:         result.Baseline,
		UpperBand:        result.UpperBand,
		LowerBand:        result.LowerBand,
		Residual:         result.Residual,
		ResidualZScore:   result.ResidualZScore,
		SeasonalAnomaly:  result.SeasonalAnomaly,
		ResidualAnomaly:  result.ResidualAnomaly,
		DistanceScore:    result.Score,
		DistanceAnomaly:  result.Anomaly,
		Anomalous:        result.Anomalous(),
	}

	return s.store.SaveScoredObservation(ctx, obs, rec)
}

func (s *ProcessorService) countAnomalies(result anomaly.Result) {
	flags := map[string]int{
		metrics.LayerStatic:   result.StaticAnomaly,
		metrics.LayerZScore:   result.ZScoreAnomaly,
		metrics.LayerSeasonal: result.SeasonalAnomaly,
		metrics.LayerResidual: result.ResidualAnomaly,
		metrics.LayerDistance: result.Anomaly,
	}
	for layer, flag := range flags {
		if flag == 1 {
			s.metrics.AnomaliesDetected.WithLabelValues(layer).Inc()
		}
	}
}

func scoredEvent(msg *ObservationMessage, result anomaly.Result) mq.ScoredEvent {
	return mq.ScoredEvent{
		RequestID:        msg.RequestID,
		SubjectKey:       msg.SubjectKey,
		MetricValue:      msg.Value,
		ObservedAt:       msg.ObservedAt.Format(time.RFC3339),
		Anomalous:        result.Anomalous(),
		StaticUpperBound: result.StaticUpperBound,
		StaticLowerBound: result.StaticLowerBound,
		StaticAnomaly:    result.StaticAnomaly,
		ZScore:           result.ZScore,
		ZScoreAnomaly:    result.ZScoreAnomaly,
		Baseline:         result.Baseline,
		UpperBand:        result.UpperBand,
		LowerBand:        result.LowerBand,
		Residual:         result.Residual,
		ResidualZScore:   result.ResidualZScore,
		SeasonalAnomaly:  result.SeasonalAnomaly,
		ResidualAnomaly:  result.ResidualAnomaly,
		DistanceScore:    result.Score,
		DistanceAnomaly:  result.Anomaly,
		Features:         msg.Features,
	}
}

func finiteObservation(value float64, features []float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	for _, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
