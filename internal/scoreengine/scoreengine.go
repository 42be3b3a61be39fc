// Package scoreengine computes the composite quality score and its
// subcomponents (C2): L-infinity, CAOS+, SR, G, OCI, and the effective
// step alpha_Omega_t. Every computation is deterministic given its
// inputs and the RNG source, except for the single controlled
// perturbation documented in CaosPlus.
package scoreengine

import (
	"math"

	"github.com/r3e-network/evo-core/internal/config"
	"github.com/r3e-network/evo-core/internal/rng"
)

// LInfInputs are the six sub-metrics L-infinity aggregates.
type LInfInputs struct {
	RSI, Synergy, Novelty, Stability, Viability, Cost float64
}

// LInf computes the harmonic-weighted aggregate quality score: the six
// sub-metrics {rsi, synergy, novelty, stability, viability, 1-cost}
// under fixed weights, cost-penalised by exp(-lambda_c*cost), and
// zeroed whenever ethics or risk checks fail (§4.2 step 1).
func LInf(in LInfInputs, weights [6]float64, lambdaC float64, ethicsOK, riskOK bool) float64 {
	values := []float64{in.RSI, in.Synergy, in.Novelty, in.Stability, in.Viability, 1 - in.Cost}
	base := weightedHarmonicMean(values, weights[:])
	penalised := base * math.Exp(-lambdaC*in.Cost)

	indicator := 1.0
	if !ethicsOK || !riskOK {
		indicator = 0.0
	}
	return penalised * indicator
}

// SRInputs are the four reflexivity sub-components.
type SRInputs struct {
	CCal, EOk, M, AEff float64
}

// SR computes the harmonic mean of {C_cal, E_ok, M, A_eff} under
// positive weights (§4.2 step 3).
func SR(in SRInputs, weights [4]float64) float64 {
	values := []float64{in.CCal, in.EOk, in.M, in.AEff}
	return weightedHarmonicMean(values, weights[:])
}

// G computes the harmonic mean over a fixed-size vector of module
// scores with configurable weights (§4.2 step 4).
func G(moduleScores [8]float64, weights [8]float64) float64 {
	return weightedHarmonicMean(moduleScores[:], weights[:])
}

// OCIInputs are the four organisational-coherence sub-components.
type OCIInputs struct {
	Memory, Flow, Policy, Feedback float64
}

// OCI computes the harmonic mean over {memory, flow, policy, feedback}
// (§4.2 step 5).
func OCI(in OCIInputs, weights [4]float64) float64 {
	values := []float64{in.Memory, in.Flow, in.Policy, in.Feedback}
	return weightedHarmonicMean(values, weights[:])
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// AlphaOmega computes the effective evolution step size for this
// cycle: alpha_0 scaled by logistic-normalised gate scores against
// their thresholds, clamped to [0,1] (§4.2 step 6).
func AlphaOmega(alpha0, caosPlus, sr, g, oci, tauSR, tauG, tauOCI float64) float64 {
	step := alpha0 *
		sigmoid(2*(caosPlus-1)) *
		sigmoid(5*(sr-tauSR)) *
		sigmoid(5*(g-tauG)) *
		sigmoid(5*(oci-tauOCI))
	if step < 0 {
		return 0
	}
	if step > 1 {
		return 1
	}
	return step
}

// Inputs bundles every external measurement the engine needs for one
// cycle's scores, beyond what is already tracked in evostate.State.
type Inputs struct {
	LInf     LInfInputs
	SR       SRInputs
	OCI      OCIInputs
	Modules  [8]float64
	C, A, O, S float64
	EthicsOK, RiskOK bool
}

// Result bundles every score the engine produces for one cycle.
type Result struct {
	LInf       float64
	DeltaLInf  float64
	CaosPlus   CaosPlusResult
	SR         float64
	G          float64
	OCI        float64
	AlphaOmega float64
}

// Compute runs the full §4.2 pipeline in order against cfg, the
// previous cycle's L-infinity, the RNG source, and the stability
// tracker (owned by the caller so it persists across cycles).
func Compute(cfg *config.Config, in Inputs, lInfPrev float64, source *rng.Source, tracker *StabilityTracker) Result {
	lInf := LInf(in.LInf, cfg.LInf.Weights, cfg.LInf.LambdaC, in.EthicsOK, in.RiskOK)
	deltaLInf := lInf - lInfPrev

	caos := CaosPlus(in.C, in.A, in.O, in.S, cfg.CaosPlus.Kappa, cfg.CaosPlus.ChaosProbability, cfg.CaosPlus.MaxBoost, source, tracker)

	sr := SR(in.SR, cfg.SROmega.Weights)
	g := G(in.Modules, cfg.OmegaSigma.Weights)
	oci := OCI(in.OCI, cfg.OCI.Weights)

	alphaOmega := AlphaOmega(cfg.Evolution.Alpha0, caos.Value, sr, g, oci, cfg.SROmega.TauSR, cfg.OmegaSigma.TauG, cfg.OCI.TauOCI)

	return Result{
		LInf: lInf, DeltaLInf: deltaLInf, CaosPlus: caos,
		SR: sr, G: g, OCI: oci, AlphaOmega: alphaOmega,
	}
}
