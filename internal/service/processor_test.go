package service_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/regionpulse/stress-anomaly-worker/internal/anomaly"
	"github.com/regionpulse/stress-anomaly-worker/internal/config"
	"github.com/regionpulse/stress-anomaly-worker/internal/db"
	"github.com/regionpulse/stress-anomaly-worker/internal/metrics"
	"github.com/regionpulse/stress-anomaly-worker/internal/mq"
	"github.com/regionpulse/stress-anomaly-worker/internal/service"
	"go.uber.org/zap"
)

type fakeStore struct {
	history    []db.StressObservation
	historyErr error
	loads      int
	savedObs   []*db.StressObservation
	savedRecs  []*db.AnomalyRecord
	saveErr    error
}

func (f *fakeStore) SaveScoredObservation(ctx context.Context, obs *db.StressObservation, rec *db.AnomalyRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedObs = append(f.savedObs, obs)
	f.savedRecs = append(f.savedRecs, rec)
	return nil
}

func (f *fakeStore) RecentObservations(ctx context.Context, subjectKey string, limit int) ([]db.StressObservation, error) {
	f.loads++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

type fakePublisher struct {
	events []mq.ScoredEvent
	err    error
}

func (f *fakePublisher) PublishScoredEvent(ctx context.Context, event mq.ScoredEvent, routingKey string) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newTestProcessor(t *testing.T, store *fakeStore, pub *fakePublisher) (*service.ProcessorService, *metrics.Metrics) {
	t.Helper()

	engineCfg := anomaly.EngineConfig{
		Static: anomaly.StaticConfig{
			WindowSize:     20,
			PercentileLow:  10,
			PercentileHigh: 90,
			ZScoreK:        3.0,
		},
		Seasonal: anomaly.SeasonalConfig{
			WindowSize: 20,
			EWMAAlpha:  0.1,
			BandK:      1.0,
			ResidualK:  3.0,
		},
		Distance: anomaly.DefaultDistanceConfig(),
	}
	engine, err := anomaly.NewEngine(engineCfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	cfg := &config.Config{
		RabbitMQ: config.RabbitMQConfig{WorkerRoutingKey: "stress.observation.scored"},
		Warmup:   config.WarmupConfig{Enabled: true, MaxValues: 20},
	}

	m := metrics.New()
	return service.NewProcessorService(store, pub, engine, m, cfg, zap.NewNop()), m
}

func flatHistory(subjectKey string, value float64, n int) []db.StressObservation {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	history := make([]db.StressObservation, n)
	for i := range history {
		history[i] = db.StressObservation{
			SubjectKey:  subjectKey,
			MetricValue: value,
			ObservedAt:  start.Add(time.Duration(i) * 24 * time.Hour),
		}
	}
	return history
}

func TestProcessMessage_RejectsMalformedJSON(t *testing.T) {
	s, _ := newTestProcessor(t, &fakeStore{}, &fakePublisher{})

	err := s.ProcessMessage(context.Background(), []byte("{not json"))
	if err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestProcessMessage_RejectsMissingSubjectKey(t *testing.T) {
	s, _ := newTestProcessor(t, &fakeStore{}, &fakePublisher{})

	err := s.ProcessMessage(context.Background(), []byte(`{"request_id":"r1","value":0.5}`))
	if err == nil {
		t.Error("Expected error for missing subject_key")
	}
}

func TestProcessMessage_ScoresPersistsAndPublishes(t *testing.T) {
	store := &fakeStore{history: flatHistory("region-a", 0.5, 20)}
	pub := &fakePublisher{}
	s, m := newTestProcessor(t, store, pub)

	body := []byte(`{"request_id":"r1","subject_key":"region-a","observed_at":"2026-08-22T00:00:00Z","value":2.5,"source":"connector"}`)
	if err := s.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected message to process, got error: %v", err)
	}

	// Warm-up replayed the flat history, so the live spike breaches both
	// the percentile bounds and the seasonal band
	if len(store.savedRecs) != 1 {
		t.Fatalf("Expected 1 saved record, got %d", len(store.savedRecs))
	}
	rec := store.savedRecs[0]
	if rec.StaticAnomaly != 1 {
		t.Errorf("Expected static anomaly after warm-up, got %+v", rec)
	}
	if rec.SeasonalAnomaly != 1 {
		t.Errorf("Expected seasonal anomaly after warm-up, got %+v", rec)
	}
	if !rec.Anomalous {
		t.Error("Expected record marked anomalous")
	}

	if len(pub.events) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(pub.events))
	}
	event := pub.events[0]
	if event.SubjectKey != "region-a" || !event.Anomalous {
		t.Errorf("Expected anomalous event for region-a, got %+v", event)
	}

	if got := testutil.ToFloat64(m.ObservationsProcessed); got != 1 {
		t.Errorf("Expected 1 processed observation, got %f", got)
	}
	if got := testutil.ToFloat64(m.WarmupReplays); got != 1 {
		t.Errorf("Expected 1 warm-up replay, got %f", got)
	}
}

func TestProcessMessage_WarmupLoadsHistoryOncePerSubject(t *testing.T) {
	store := &fakeStore{historyErr: errors.New("connection refused")}
	pub := &fakePublisher{}
	s, _ := newTestProcessor(t, store, pub)

	body := []byte(`{"request_id":"r1","subject_key":"region-a","value":0.5}`)
	if err := s.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected failed warm-up to degrade to cold start, got error: %v", err)
	}
	if err := s.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected second message to process, got error: %v", err)
	}

	if store.loads != 1 {
		t.Errorf("Expected 1 history load despite failure, got %d", store.loads)
	}
	if len(store.savedRecs) != 2 {
		t.Errorf("Expected both messages persisted, got %d", len(store.savedRecs))
	}
}

func TestProcessObservation_NonFiniteValueFailsOpen(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	s, m := newTestProcessor(t, store, pub)

	err := s.ProcessObservation(context.Background(), service.ObservationMessage{
		RequestID:  "r1",
		SubjectKey: "region-a",
		Value:      math.NaN(),
		Features:   []float64{1.0, math.Inf(1)},
	})
	if err != nil {
		t.Fatalf("Expected fail-open processing, got error: %v", err)
	}

	if got := testutil.ToFloat64(m.InvalidObservations); got != 1 {
		t.Errorf("Expected 1 invalid observation counted, got %f", got)
	}

	if len(store.savedRecs) != 1 {
		t.Fatalf("Expected neutral record persisted, got %d records", len(store.savedRecs))
	}
	rec := store.savedRecs[0]
	if rec.Anomalous {
		t.Errorf("Expected neutral result for non-finite input, got %+v", rec)
	}
	for name, v := range map[string]float64{
		"zscore":         rec.ZScore,
		"baseline":       rec.Baseline,
		"distance_score": rec.DistanceScore,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("Expected finite %s in persisted record, got %f", name, v)
		}
	}
}

func TestProcessMessage_PublishFailureDoesNotRequeue(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{err: errors.New("channel closed")}
	s, _ := newTestProcessor(t, store, pub)

	body := []byte(`{"request_id":"r1","subject_key":"region-a","value":0.5}`)
	if err := s.ProcessMessage(context.Background(), body); err != nil {
		t.Errorf("Expected nil error when only publishing fails, got: %v", err)
	}

	if len(store.savedRecs) != 1 {
		t.Errorf("Expected record persisted before publish attempt, got %d", len(store.savedRecs))
	}
}

func TestProcessMessage_PersistFailureRequeues(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("deadlock detected")}
	pub := &fakePublisher{}
	s, _ := newTestProcessor(t, store, pub)

	body := []byte(`{"request_id":"r1","subject_key":"region-a","value":0.5}`)
	if err := s.ProcessMessage(context.Background(), body); err == nil {
		t.Error("Expected error when persistence fails")
	}

	if len(pub.events) != 0 {
		t.Errorf("Expected no event published after failed persist, got %d", len(pub.events))
	}
}
