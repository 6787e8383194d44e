package anomaly

import (
	"fmt"
	"math"
	"sync"

	"github.com/regionpulse/stress-anomaly-worker/internal/window"
)

// Default thresholds for the seasonal baseline layer
const (
	DefaultEWMAAlpha = 0.1
	DefaultBandK     = 2.0
	DefaultResidualK = 2.5
)

// SeasonalConfig holds seasonal-residual tracker settings
type SeasonalConfig struct {
	WindowSize int
	EWMAAlpha  float64
	BandK      float64
	ResidualK  float64
}

// DefaultSeasonalConfig returns the production defaults
func DefaultSeasonalConfig() SeasonalConfig {
	return SeasonalConfig{
		WindowSize: DefaultWindowSize,
		EWMAAlpha:  DefaultEWMAAlpha,
		BandK:      DefaultBandK,
		ResidualK:  DefaultResidualK,
	}
}

// Validate checks the configuration, failing fast on bad thresholds
func (c SeasonalConfig) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("window size must be >= 1, got %d", c.WindowSize)
	}
	if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		return fmt.Errorf("ewma alpha must lie in (0,1], got %.3f", c.EWMAAlpha)
	}
	if c.BandK <= 0 {
		return fmt.Errorf("band threshold must be positive, got %.2f", c.BandK)
	}
	if c.ResidualK <= 0 {
		return fmt.Errorf("residual threshold must be positive, got %.2f", c.ResidualK)
	}
	return nil
}

// SeasonalResult is the per-update output of the seasonal tracker
type SeasonalResult struct {
	Baseline        float64 `json:"baseline"`
	UpperBand       float64 `json:"upper_band"`
	LowerBand       float64 `json:"lower_band"`
	Residual        float64 `json:"residual"`
	ResidualZScore  float64 `json:"residual_zscore"`
	SeasonalAnomaly int     `json:"seasonal_anomaly"`
	ResidualAnomaly int     `json:"residual_anomaly"`
}

// seasonalState is the per-subject state: an EWMA baseline plus bounded
// windows of raw values and residuals
type seasonalState struct {
	baseline    float64
	hasBaseline bool
	values      *window.Window[float64]
	residuals   *window.Window[float64]
}

// SeasonalTracker maintains an EWMA baseline per subject and flags values
// that breach the band around it or whose residual z-score is extreme.
// Updates for one subject are order-dependent: the baseline folds each
// value into the previous one, so the caller must deliver in arrival order.
type SeasonalTracker struct {
	cfg SeasonalConfig

	mu       sync.Mutex
	subjects map[string]*seasonalState
}

// NewSeasonalTracker creates a seasonal-residual tracker
func NewSeasonalTracker(cfg SeasonalConfig) (*SeasonalTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("seasonal tracker config: %w", err)
	}
	return &SeasonalTracker{
		cfg:      cfg,
		subjects: make(map[string]*seasonalState),
	}, nil
}

// Update folds value into the subject's baseline and windows and
// classifies it. Non-finite values return the empty result without
// touching state.
func (t *SeasonalTracker) Update(subject string, value float64) SeasonalResult {
	if !isFinite(value) {
		return SeasonalResult{}
	}

	t.mu.Lock()
	st, ok := t.subjects[subject]
	if !ok {
		values, _ := window.New[float64](t.cfg.WindowSize)
		residuals, _ := window.New[float64](t.cfg.WindowSize)
		st = &seasonalState{values: values, residuals: residuals}
		t.subjects[subject] = st
	}

	// Fold the new value into the baseline before computing the residual
	if !st.hasBaseline {
		st.baseline = value
		st.hasBaseline = true
	} else {
		st.baseline = t.cfg.EWMAAlpha*value + (1-t.cfg.EWMAAlpha)*st.baseline
	}
	baseline := st.baseline
	residual := value - baseline

	st.values.Push(value)
	st.residuals.Push(residual)
	values := st.values.Values()
	residuals := st.residuals.Values()
	t.mu.Unlock()

	if len(values) < 2 {
		return SeasonalResult{
			Baseline:  baseline,
			UpperBand: baseline,
			LowerBand: baseline,
			Residual:  residual,
		}
	}

	_, stdV := populationStats(values)
	bandHalf := t.cfg.BandK * stdV

	result := SeasonalResult{
		Baseline:  baseline,
		UpperBand: baseline + bandHalf,
		LowerBand: baseline - bandHalf,
		Residual:  residual,
	}
	if value < result.LowerBand || value > result.UpperBand {
		result.SeasonalAnomaly = 1
	}

	meanR, stdR := populationStats(residuals)
	if stdR > 0 {
		result.ResidualZScore = (residual - meanR) / stdR
	}
	if math.Abs(result.ResidualZScore) > t.cfg.ResidualK {
		result.ResidualAnomaly = 1
	}

	return result
}

// Subjects returns the number of tracked subjects
func (t *SeasonalTracker) Subjects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subjects)
}

// Forget drops all state for a subject
func (t *SeasonalTracker) Forget(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subjects, subject)
}
