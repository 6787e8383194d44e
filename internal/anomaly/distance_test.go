package anomaly_test

import (
	"math"
	"testing"

	"github.com/regionpulse/stress-anomaly-worker/internal/anomaly"
)

func vec(v float64, d int) []float64 {
	out := make([]float64, d)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNewDistanceTracker_RejectsBadConfig(t *testing.T) {
	bad := []anomaly.DistanceConfig{
		{WindowSize: 0, DistanceThreshold: 15},
		{WindowSize: 100, DistanceThreshold: 0},
		{WindowSize: 100, DistanceThreshold: -3},
	}

	for i, cfg := range bad {
		if _, err := anomaly.NewDistanceTracker(cfg); err == nil {
			t.Errorf("Expected error for config %d: %+v", i, cfg)
		}
	}
}

func TestDistanceUpdate_OutlierAfterFlatHistory(t *testing.T) {
	tracker, err := anomaly.NewDistanceTracker(anomaly.DistanceConfig{
		WindowSize:        30,
		DistanceThreshold: 5.0,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	for i := 0; i < 35; i++ {
		tracker.Update("region-a", vec(0.5, 4))
	}

	result := tracker.Update("region-a", vec(5.5, 4))

	if result.Score <= 5.0 {
		t.Errorf("Expected score above threshold 5.0, got %f", result.Score)
	}
	if result.Anomaly != 1 {
		t.Errorf("Expected anomaly flag for outlier vector, got %+v", result)
	}
}

func TestDistanceUpdate_UnderDeterminedWindowIsNeutral(t *testing.T) {
	tracker, err := anomaly.NewDistanceTracker(anomaly.DistanceConfig{
		WindowSize:        30,
		DistanceThreshold: 5.0,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	// With 4 dimensions the spread estimate needs 5 samples; an extreme
	// vector before that must not flag
	tracker.Update("region-a", vec(0.5, 4))
	tracker.Update("region-a", vec(0.5, 4))
	tracker.Update("region-a", vec(0.5, 4))
	result := tracker.Update("region-a", vec(1e9, 4))

	if result.Score != 0 || result.Anomaly != 0 {
		t.Errorf("Expected neutral result while under-determined, got %+v", result)
	}
}

func TestDistanceUpdate_FlatHistoryStaysFinite(t *testing.T) {
	tracker, err := anomaly.NewDistanceTracker(anomaly.DistanceConfig{
		WindowSize:        30,
		DistanceThreshold: 5.0,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	for i := 0; i < 10; i++ {
		tracker.Update("region-a", vec(2.0, 2))
	}

	result := tracker.Update("region-a", vec(5.0, 2))

	if math.IsNaN(result.Score) || math.IsInf(result.Score, 0) {
		t.Errorf("Expected finite score for degenerate dimensions, got %f", result.Score)
	}
	if result.Score <= 0 {
		t.Errorf("Expected positive score for deviating vector, got %f", result.Score)
	}
}

func TestDistanceUpdate_NonFiniteComponentFailsOpen(t *testing.T) {
	tracker, err := anomaly.NewDistanceTracker(anomaly.DefaultDistanceConfig())
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	for _, bad := range [][]float64{
		{1.0, math.NaN(), 3.0},
		{math.Inf(1), 2.0, 3.0},
		{},
		nil,
	} {
		result := tracker.Update("region-a", bad)
		if result.Score != 0 || result.Anomaly != 0 {
			t.Errorf("Expected empty result for input %v, got %+v", bad, result)
		}
	}
}

func TestDistanceUpdate_DimensionChangeResetsSubject(t *testing.T) {
	tracker, err := anomaly.NewDistanceTracker(anomaly.DistanceConfig{
		WindowSize:        30,
		DistanceThreshold: 5.0,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	for i := 0; i < 10; i++ {
		tracker.Update("region-a", vec(0.5, 4))
	}

	result := tracker.Update("region-a", vec(0.5, 3))
	if result.Score != 0 || result.Anomaly != 0 {
		t.Errorf("Expected empty result on dimensionality change, got %+v", result)
	}

	// The old 4-dimensional history is gone, so 3-dimensional vectors
	// rebuild from an empty window
	result = tracker.Update("region-a", vec(1e9, 3))
	if result.Anomaly != 0 {
		t.Errorf("Expected neutral result right after reset, got %+v", result)
	}
}

func TestDistanceUpdate_CallerCannotMutateStoredVector(t *testing.T) {
	tracker, err := anomaly.NewDistanceTracker(anomaly.DistanceConfig{
		WindowSize:        10,
		DistanceThreshold: 5.0,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	v := []float64{1.0, 2.0}
	tracker.Update("region-a", v)
	v[0] = math.NaN()

	// Enough samples that the stats path actually reads the stored vector
	tracker.Update("region-a", []float64{1.5, 2.5})
	tracker.Update("region-a", []float64{0.5, 1.5})
	result := tracker.Update("region-a", []float64{1.0, 2.0})
	if math.IsNaN(result.Score) {
		t.Error("Mutating the caller's slice corrupted stored window state")
	}
}
