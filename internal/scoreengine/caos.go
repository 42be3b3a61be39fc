package scoreengine

import (
	"math"

	"github.com/r3e-network/evo-core/internal/fibonacci"
	"github.com/r3e-network/evo-core/internal/rng"
)

// StabilityTracker is an EWMA over the Fibonacci pattern-strength score
// of successive (C,A,O,S) tuples. It reports "stable" once variance
// falls below a threshold and enough samples have been observed, at
// which point the CAOS+ boost becomes eligible (§4.2, §9).
type StabilityTracker struct {
	alpha     float64
	minCycles int
	mean      float64
	variance  float64
	samples   int
}

// NewStabilityTracker builds a tracker with the given EWMA alpha and
// minimum sample window before it can ever report stable.
func NewStabilityTracker(alpha float64, minCycles int) *StabilityTracker {
	return &StabilityTracker{alpha: alpha, minCycles: minCycles}
}

// varianceThreshold below which the tracker considers the pattern
// score stable, once enough samples have accumulated.
const varianceThreshold = 0.01

// Observe folds one new pattern-strength score into the EWMA and
// returns the updated (mean, variance, stable).
func (t *StabilityTracker) Observe(score float64) (mean, variance float64, stable bool) {
	if t.samples == 0 {
		t.mean = score
		t.variance = 0
	} else {
		delta := score - t.mean
		t.mean += t.alpha * delta
		t.variance = (1-t.alpha)*(t.variance+t.alpha*delta*delta)
	}
	t.samples++
	stable = t.samples >= t.minCycles && t.variance < varianceThreshold
	return t.mean, t.variance, stable
}

// CaosPlusResult carries the amplifier value and whether a stability
// boost was applied.
type CaosPlusResult struct {
	Value        float64
	BoostApplied bool
	PatternScore float64
}

// CaosPlus computes (1 + kappa*C*A)^(O*S), optionally perturbing
// C,A,O,S by a uniform factor in [0.9,1.1] with probability
// chaosProbability (the only controlled non-determinism in the score
// engine, drawn from source), then applies an EWMA-gated boost capped
// at maxBoost and multiplied by the Fibonacci pattern-strength factor,
// applied only once the tracker reports stable.
func CaosPlus(c, a, o, s, kappa, chaosProbability, maxBoost float64, source *rng.Source, tracker *StabilityTracker) CaosPlusResult {
	if source.Float64() < chaosProbability {
		c = perturb(c, source)
		a = perturb(a, source)
		o = perturb(o, source)
		s = perturb(s, source)
	}

	base := 1 + kappa*c*a
	value := math.Pow(base, o*s)

	pattern := fibonacci.PatternScore(c, a, o, s)
	_, _, stable := tracker.Observe(pattern)

	boosted := value
	applied := false
	if stable {
		boost := maxBoost * pattern
		if boost > maxBoost {
			boost = maxBoost
		}
		boosted = value * (1 + boost)
		applied = true
	}

	return CaosPlusResult{Value: boosted, BoostApplied: applied, PatternScore: pattern}
}

func perturb(v float64, source *rng.Source) float64 {
	factor := source.Range(0.9, 1.1)
	out := v * factor
	if out < 0 {
		return 0
	}
	if out > 1 {
		return 1
	}
	return out
}
