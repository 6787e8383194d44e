package db

import (
	"time"

	"github.com/google/uuid"
)

// StressObservation is a raw per-subject reading persisted for warm-up
// replay after restarts
type StressObservation struct {
	ID          uuid.UUID
	SubjectKey  string
	MetricValue float64
	Features    []float64
	ObservedAt  time.Time
	ReceivedAt  time.Time
	Source      string
}

// AnomalyRecord is the scored output of one engine update
type AnomalyRecord struct {
	ID               uuid.UUID
	SubjectKey       string
	ObservedAt       time.Time
	StaticUpperBound float64
	StaticLowerBound float64
	StaticAnomaly    int
	ZScore           float64
	ZScoreAnomaly    int
	Baseline         float64
	UpperBand        float64
	LowerBand        float64
	Residual         float64
	ResidualZScore   float64
	SeasonalAnomaly  int
	ResidualAnomaly  int
	DistanceScore    float64
	DistanceAnomaly  int
	Anomalous        bool
	CreatedAt        time.Time
}
