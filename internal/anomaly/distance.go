package anomaly

import (
	"fmt"
	"sync"

	"github.com/regionpulse/stress-anomaly-worker/internal/window"
)

// DefaultDistanceThreshold is the default D² cutoff for the distance layer
const DefaultDistanceThreshold = 15.0

// DistanceConfig holds diagonal-distance tracker settings
type DistanceConfig struct {
	WindowSize        int
	DistanceThreshold float64
}

// DefaultDistanceConfig returns the production defaults
func DefaultDistanceConfig() DistanceConfig {
	return DistanceConfig{
		WindowSize:        DefaultWindowSize,
		DistanceThreshold: DefaultDistanceThreshold,
	}
}

// Validate checks the configuration, failing fast on bad thresholds
func (c DistanceConfig) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("window size must be >= 1, got %d", c.WindowSize)
	}
	if c.DistanceThreshold <= 0 {
		return fmt.Errorf("distance threshold must be positive, got %.2f", c.DistanceThreshold)
	}
	return nil
}

// DistanceResult is the per-update output of the distance tracker
type DistanceResult struct {
	Score   float64 `json:"score"`
	Anomaly int     `json:"anomaly"`
}

// DistanceTracker scores fixed-dimension feature vectors by squared
// per-dimension deviation from the subject's recent history, a simplified
// Mahalanobis distance with no cross-dimension covariance. The first
// vector observed for a subject fixes its dimensionality; a vector of a
// different length resets the subject's window and returns the empty
// result.
type DistanceTracker struct {
	cfg DistanceConfig

	mu       sync.Mutex
	subjects map[string]*window.Window[[]float64]
}

// NewDistanceTracker creates a diagonal-distance tracker
func NewDistanceTracker(cfg DistanceConfig) (*DistanceTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("distance tracker config: %w", err)
	}
	return &DistanceTracker{
		cfg:      cfg,
		subjects: make(map[string]*window.Window[[]float64]),
	}, nil
}

// Update folds vector into the subject's history and scores it. An empty
// vector or any non-finite component returns the empty result without
// touching state.
func (t *DistanceTracker) Update(subject string, vector []float64) DistanceResult {
	if len(vector) == 0 {
		return DistanceResult{}
	}
	for _, v := range vector {
		if !isFinite(v) {
			return DistanceResult{}
		}
	}

	t.mu.Lock()
	w, ok := t.subjects[subject]
	if !ok {
		w, _ = window.New[[]float64](t.cfg.WindowSize)
		t.subjects[subject] = w
	}

	// A dimensionality change would silently corrupt the per-dimension
	// stats; drop the stale history and start over for this subject.
	if w.Len() > 0 && len(w.Values()[0]) != len(vector) {
		w.Reset()
		t.mu.Unlock()
		return DistanceResult{}
	}

	stored := make([]float64, len(vector))
	copy(stored, vector)
	w.Push(stored)
	vectors := w.Values()
	t.mu.Unlock()

	n := len(vectors)
	d := len(vector)

	// Under-determined: too few samples to estimate per-dimension spread
	if n < d+1 {
		return DistanceResult{}
	}

	dim := make([]float64, n)
	score := 0.0
	for i := 0; i < d; i++ {
		for j, vec := range vectors {
			dim[j] = vec[i]
		}
		mean, std := populationStats(dim)
		if std <= 0 {
			// Degenerate dimension: unit sigma keeps the deviation in the
			// score instead of zeroing it (unlike the scalar layers)
			std = 1.0
		}
		dev := (vector[i] - mean) / std
		score += dev * dev
	}

	result := DistanceResult{Score: score}
	if score > t.cfg.DistanceThreshold {
		result.Anomaly = 1
	}
	return result
}

// Subjects returns the number of tracked subjects
func (t *DistanceTracker) Subjects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subjects)
}

// Forget drops all state for a subject
func (t *DistanceTracker) Forget(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subjects, subject)
}
