// Package retry provides backoff delay computation for task retry
// attempts, plus per-handler-type metrics about those attempts.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy identifies how the delay grows with the attempt number.
type Strategy string

// Supported backoff strategies.
const (
	StrategyImmediate   Strategy = "immediate"
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// jitterFraction is the maximum relative perturbation applied when
// jitter is enabled: the computed delay is shifted by up to ±10%.
const jitterFraction = 0.1

// Config holds the parameters for computing a backoff delay.
type Config struct {
	// Strategy selects the growth curve. Unknown values behave as
	// StrategyImmediate.
	Strategy Strategy

	// BaseDelay is the delay for the first retry attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor. Only used by
	// StrategyExponential; values <= 0 default to 2.
	Multiplier float64

	// Jitter perturbs the delay by ±10% uniformly at random.
	Jitter bool
}

// DefaultConfig returns a Config with reasonable defaults:
// exponential backoff starting at one second, capped at one minute.
func DefaultConfig() Config {
	return Config{
		Strategy:   StrategyExponential,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Policy computes backoff delays. The zero value is not usable; use
// NewPolicy. A Policy is safe for concurrent use only when the
// underlying rand source is; the default source is protected.
type Policy struct {
	cfg Config
	rng *rand.Rand
}

// NewPolicy creates a Policy for the given config. If rng is nil a
// time-seeded source is used; tests inject a fixed seed to make jitter
// deterministic.
func NewPolicy(cfg Config, rng *rand.Rand) *Policy {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{cfg: cfg, rng: rng}
}

// Delay returns the backoff delay before retry attempt number attempt
// (1-based). The result is always >= 0 and, before jitter, never
// exceeds MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.cfg.Strategy {
	case StrategyFixed:
		d = p.cfg.BaseDelay
	case StrategyLinear:
		d = time.Duration(attempt) * p.cfg.BaseDelay
	case StrategyExponential:
		factor := math.Pow(p.cfg.Multiplier, float64(attempt-1))
		d = time.Duration(float64(p.cfg.BaseDelay) * factor)
	default:
		// StrategyImmediate and anything unrecognized.
		return 0
	}

	d = p.clamp(d)

	if p.cfg.Jitter && d > 0 {
		// Uniform in [-jitterFraction, +jitterFraction].
		shift := (p.rng.Float64()*2 - 1) * jitterFraction
		d = time.Duration(float64(d) * (1 + shift))
		if d < 0 {
			d = 0
		}
	}

	return d
}

func (p *Policy) clamp(d time.Duration) time.Duration {
	if d < 0 {
		// Overflow from a large exponent; fall back to the cap.
		if p.cfg.MaxDelay > 0 {
			return p.cfg.MaxDelay
		}
		return 0
	}
	if p.cfg.MaxDelay > 0 && d > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return d
}
