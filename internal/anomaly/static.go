package anomaly

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/regionpulse/stress-anomaly-worker/internal/window"
)

// Default thresholds for the static percentile/z-score layer
const (
	DefaultWindowSize     = 500
	DefaultPercentileLow  = 5.0
	DefaultPercentileHigh = 95.0
	DefaultZScoreK        = 2.5
)

// StaticConfig holds static-bound tracker settings
type StaticConfig struct {
	WindowSize     int
	PercentileLow  float64
	PercentileHigh float64
	ZScoreK        float64
}

// DefaultStaticConfig returns the production defaults
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		WindowSize:     DefaultWindowSize,
		PercentileLow:  DefaultPercentileLow,
		PercentileHigh: DefaultPercentileHigh,
		ZScoreK:        DefaultZScoreK,
	}
}

// Validate checks the configuration, failing fast on bad thresholds
func (c StaticConfig) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("window size must be >= 1, got %d", c.WindowSize)
	}
	if c.PercentileLow < 0 || c.PercentileHigh > 100 {
		return fmt.Errorf("percentiles must lie in [0,100], got [%.1f, %.1f]", c.PercentileLow, c.PercentileHigh)
	}
	if c.PercentileLow >= c.PercentileHigh {
		return fmt.Errorf("percentile_low %.1f must be below percentile_high %.1f", c.PercentileLow, c.PercentileHigh)
	}
	if c.ZScoreK <= 0 {
		return fmt.Errorf("zscore threshold must be positive, got %.2f", c.ZScoreK)
	}
	return nil
}

// StaticResult is the per-update output of the static tracker. Flags are
// 0/1 integers so downstream consumers can sum them directly.
type StaticResult struct {
	StaticUpperBound float64 `json:"static_upper_bound"`
	StaticLowerBound float64 `json:"static_lower_bound"`
	StaticAnomaly    int     `json:"static_anomaly"`
	ZScore           float64 `json:"zscore"`
	ZScoreAnomaly    int     `json:"zscore_anomaly"`
}

// StaticTracker flags values outside empirical percentile bounds or beyond
// a rolling z-score threshold, per subject. Safe for concurrent use across
// subjects; updates for one subject must arrive in order.
type StaticTracker struct {
	cfg StaticConfig

	mu       sync.Mutex
	subjects map[string]*window.Window[float64]
}

// NewStaticTracker creates a static-bound tracker
func NewStaticTracker(cfg StaticConfig) (*StaticTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("static tracker config: %w", err)
	}
	return &StaticTracker{
		cfg:      cfg,
		subjects: make(map[string]*window.Window[float64]),
	}, nil
}

// Update folds value into the subject's history and classifies it.
// Non-finite values return the empty result without touching state
// (fail-open: availability over completeness).
func (t *StaticTracker) Update(subject string, value float64) StaticResult {
	if !isFinite(value) {
		return StaticResult{}
	}

	t.mu.Lock()
	w, ok := t.subjects[subject]
	if !ok {
		w, _ = window.New[float64](t.cfg.WindowSize)
		t.subjects[subject] = w
	}

	w.Push(value)
	values := w.Values()
	t.mu.Unlock()

	n := len(values)
	if n < 2 {
		return StaticResult{
			StaticUpperBound: value,
			StaticLowerBound: value,
		}
	}

	mean, std := populationStats(values)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	lower := sorted[percentileIndex(t.cfg.PercentileLow, n)]
	upper := sorted[percentileIndex(t.cfg.PercentileHigh, n)]

	result := StaticResult{
		StaticUpperBound: upper,
		StaticLowerBound: lower,
	}
	if value < lower || value > upper {
		result.StaticAnomaly = 1
	}

	// Zero spread means every value is identical; report a neutral z-score
	if std > 0 {
		result.ZScore = (value - mean) / std
	}
	if math.Abs(result.ZScore) > t.cfg.ZScoreK {
		result.ZScoreAnomaly = 1
	}

	return result
}

// Subjects returns the number of tracked subjects
func (t *StaticTracker) Subjects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subjects)
}

// Forget drops all state for a subject
func (t *StaticTracker) Forget(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subjects, subject)
}

// percentileIndex maps percentile p to an index into a sorted slice of
// length n: floor(p/100 * (n-1)), clamped to [0, n-1].
func percentileIndex(p float64, n int) int {
	idx := int(math.Floor(p / 100.0 * float64(n-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}
