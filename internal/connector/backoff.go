package connector

import (
	"math"
	"math/rand"
	"time"
)

// maxUncappedDelay bounds the nominal delay when MaxDelay is zero.
const maxUncappedDelay = 24 * time.Hour

// NextBackoffDelay returns the reconnect delay for attempt N (1-based).
// With jitter the delay is scaled into [0.5, 1.5) of its nominal value.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 {
		mult := max(cfg.Multiplier, 1.0)
		delay *= math.Pow(mult, float64(attempt-1))
	}
	ceiling := float64(maxUncappedDelay)
	if cfg.MaxDelay > 0 {
		ceiling = float64(cfg.MaxDelay)
	}
	if delay > ceiling || math.IsNaN(delay) {
		delay = ceiling
	}
	if cfg.Jitter {
		f := 1.0
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
