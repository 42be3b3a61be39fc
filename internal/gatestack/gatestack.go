// Package gatestack implements the ten non-compensatory promotion gates
// and the two environmental guards of C3. Every gate produces a
// structured outcome; the driver never weighs or averages them — a
// single failure fails the whole stack.
package gatestack

import (
	"fmt"

	"github.com/r3e-network/evo-core/internal/config"
)

// costMaxMultiplier is the fixed 110% budget ceiling (§4.3 gate 7).
const costMaxMultiplier = 1.10

// kappaMin is the fixed minimum amplifier gain (§4.3 gate 8).
const kappaMin = 20.0

// resourceGuardMax is the cpu/mem fraction at or above which the
// resource-availability guard fails (§4.3).
const resourceGuardMax = 0.95

// uncertaintyGuardMax is the uncertainty value at or above which the
// uncertainty guard fails (§4.3).
const uncertaintyGuardMax = 0.9

// Outcome is the structured result of a single gate or guard
// evaluation (§4.3).
type Outcome struct {
	GateName  string
	Value     float64
	Threshold float64
	Passed    bool
	Message   string
}

// Metrics bundles every measurement the gate stack needs for one
// cycle's evaluation.
type Metrics struct {
	Rho         float64
	ECE         float64
	RhoBias     float64
	SR          float64
	G           float64
	DeltaLInf   float64
	Cost        float64
	Budget      float64
	Kappa       float64
	Consent     bool
	EcoOK       bool
	CPU         float64
	Mem         float64
	Uncertainty float64
}

// Contractivity is gate 1: rho must stay strictly below rho_max.
func Contractivity(m Metrics, cfg *config.Config) Outcome {
	passed := m.Rho < cfg.IRIC.RhoMax
	return Outcome{
		GateName: "contractivity", Value: m.Rho, Threshold: cfg.IRIC.RhoMax, Passed: passed,
		Message: fmt.Sprintf("rho=%.4f threshold<%.4f", m.Rho, cfg.IRIC.RhoMax),
	}
}

// Calibration is gate 2: ECE must not exceed ece_max.
func Calibration(m Metrics, cfg *config.Config) Outcome {
	passed := m.ECE <= cfg.Ethics.ECEMax
	return Outcome{
		GateName: "calibration", Value: m.ECE, Threshold: cfg.Ethics.ECEMax, Passed: passed,
		Message: fmt.Sprintf("ece=%.4f threshold<=%.4f", m.ECE, cfg.Ethics.ECEMax),
	}
}

// Bias is gate 3: rho_bias must not exceed rho_bias_max.
func Bias(m Metrics, cfg *config.Config) Outcome {
	passed := m.RhoBias <= cfg.Ethics.RhoBiasMax
	return Outcome{
		GateName: "bias", Value: m.RhoBias, Threshold: cfg.Ethics.RhoBiasMax, Passed: passed,
		Message: fmt.Sprintf("rho_bias=%.4f threshold<=%.4f", m.RhoBias, cfg.Ethics.RhoBiasMax),
	}
}

// Reflexivity is gate 4: SR must meet tau_sr.
func Reflexivity(m Metrics, cfg *config.Config) Outcome {
	passed := m.SR >= cfg.SROmega.TauSR
	return Outcome{
		GateName: "reflexivity", Value: m.SR, Threshold: cfg.SROmega.TauSR, Passed: passed,
		Message: fmt.Sprintf("sr=%.4f threshold>=%.4f", m.SR, cfg.SROmega.TauSR),
	}
}

// Coherence is gate 5: G must meet tau_g.
func Coherence(m Metrics, cfg *config.Config) Outcome {
	passed := m.G >= cfg.OmegaSigma.TauG
	return Outcome{
		GateName: "coherence", Value: m.G, Threshold: cfg.OmegaSigma.TauG, Passed: passed,
		Message: fmt.Sprintf("g=%.4f threshold>=%.4f", m.G, cfg.OmegaSigma.TauG),
	}
}

// Improvement is gate 6: delta_linf must meet beta_min.
func Improvement(m Metrics, cfg *config.Config) Outcome {
	passed := m.DeltaLInf >= cfg.Thresholds.BetaMin
	return Outcome{
		GateName: "improvement", Value: m.DeltaLInf, Threshold: cfg.Thresholds.BetaMin, Passed: passed,
		Message: fmt.Sprintf("delta_linf=%+.4f threshold>=%.4f", m.DeltaLInf, cfg.Thresholds.BetaMin),
	}
}

// Cost is gate 7: cost must not exceed 110% of budget.
func Cost(m Metrics) Outcome {
	maxCost := m.Budget * costMaxMultiplier
	passed := m.Cost <= maxCost
	return Outcome{
		GateName: "cost", Value: m.Cost, Threshold: maxCost, Passed: passed,
		Message: fmt.Sprintf("cost=%.4f threshold<=%.4f (budget=%.4f)", m.Cost, maxCost, m.Budget),
	}
}

// Kappa is gate 8: the CAOS+ gain must meet the fixed floor of 20.
func Kappa(m Metrics) Outcome {
	passed := m.Kappa >= kappaMin
	return Outcome{
		GateName: "kappa", Value: m.Kappa, Threshold: kappaMin, Passed: passed,
		Message: fmt.Sprintf("kappa=%.2f threshold>=%.2f", m.Kappa, kappaMin),
	}
}

// Consent is gate 9: explicit consent must be granted.
func Consent(m Metrics) Outcome {
	value := 0.0
	if m.Consent {
		value = 1.0
	}
	return Outcome{
		GateName: "consent", Value: value, Threshold: 1.0, Passed: m.Consent,
		Message: boolMessage("consent", m.Consent, "granted", "not granted"),
	}
}

// Ecological is gate 10: the ecological footprint check must pass.
func Ecological(m Metrics) Outcome {
	value := 0.0
	if m.EcoOK {
		value = 1.0
	}
	return Outcome{
		GateName: "ecological", Value: value, Threshold: 1.0, Passed: m.EcoOK,
		Message: boolMessage("eco_ok", m.EcoOK, "ok", "not ok"),
	}
}

func boolMessage(name string, ok bool, passMsg, failMsg string) string {
	if ok {
		return name + "=" + passMsg
	}
	return name + "=" + failMsg
}

// ResourceGuard is the resource-availability environmental guard: cpu
// or mem at or above resourceGuardMax fails (§4.3). Callers must
// already have substituted the fail-closed 0.99 values (via
// internal/resource.Measure) when a real sample was unavailable.
func ResourceGuard(cpu, mem float64) Outcome {
	passed := cpu < resourceGuardMax && mem < resourceGuardMax
	worst := cpu
	if mem > worst {
		worst = mem
	}
	return Outcome{
		GateName: "resource_availability", Value: worst, Threshold: resourceGuardMax, Passed: passed,
		Message: fmt.Sprintf("cpu=%.3f mem=%.3f threshold<%.3f", cpu, mem, resourceGuardMax),
	}
}

// UncertaintyGuard is the uncertainty environmental guard: uncertainty
// at or above uncertaintyGuardMax fails (§4.3).
func UncertaintyGuard(uncertainty float64) Outcome {
	passed := uncertainty < uncertaintyGuardMax
	return Outcome{
		GateName: "uncertainty", Value: uncertainty, Threshold: uncertaintyGuardMax, Passed: passed,
		Message: fmt.Sprintf("uncertainty=%.4f threshold<%.4f", uncertainty, uncertaintyGuardMax),
	}
}

// EthicsSubGate runs gates 2, 3, 9, 10 plus contractivity, the subset
// the cycle driver checks first (§4.4 step 4).
func EthicsSubGate(m Metrics, cfg *config.Config) []Outcome {
	return []Outcome{
		Contractivity(m, cfg),
		Calibration(m, cfg),
		Bias(m, cfg),
		Consent(m),
		Ecological(m),
	}
}

// RiskResourceSubGate runs contractivity, uncertainty, cpu and mem,
// the subset the cycle driver checks second (§4.4 step 5).
func RiskResourceSubGate(m Metrics, cfg *config.Config) []Outcome {
	return []Outcome{
		Contractivity(m, cfg),
		UncertaintyGuard(m.Uncertainty),
		ResourceGuard(m.CPU, m.Mem),
	}
}

// RemainingGates runs the five gates not already covered by
// EthicsSubGate/RiskResourceSubGate: reflexivity, coherence,
// improvement, cost, kappa (§4.4 step 7).
func RemainingGates(m Metrics, cfg *config.Config) []Outcome {
	return []Outcome{
		Reflexivity(m, cfg),
		Coherence(m, cfg),
		Improvement(m, cfg),
		Cost(m),
		Kappa(m),
	}
}

// EvaluateAll runs all ten gates in their fixed order (§4.3).
func EvaluateAll(m Metrics, cfg *config.Config) []Outcome {
	return []Outcome{
		Contractivity(m, cfg),
		Calibration(m, cfg),
		Bias(m, cfg),
		Reflexivity(m, cfg),
		Coherence(m, cfg),
		Improvement(m, cfg),
		Cost(m),
		Kappa(m),
		Consent(m),
		Ecological(m),
	}
}

// AllPassed reports whether every outcome in the slice passed
// (non-compensatory: a single failure fails the stack).
func AllPassed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// FailedNames returns the gate names of every failing outcome, in
// evaluation order.
func FailedNames(outcomes []Outcome) []string {
	var names []string
	for _, o := range outcomes {
		if !o.Passed {
			names = append(names, o.GateName)
		}
	}
	return names
}
