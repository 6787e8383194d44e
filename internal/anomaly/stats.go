package anomaly

import "math"

// populationStats returns the population mean and standard deviation of
// values. Variance is Σ(x-μ)²/n. A non-positive variance yields std = 0.
func populationStats(values []float64) (mean, std float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n

	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return mean, std
}

// isFinite reports whether v is a usable observation value
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
