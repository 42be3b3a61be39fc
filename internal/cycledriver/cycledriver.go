// Package cycledriver implements the fixed twelve-step cycle sequence
// (C4): the only mutator of evostate.State and the only writer of
// PROMOTE_ATTEST. Any failure along the way short-circuits to a
// recorded abort or rollback; the driver never yields mid-mutation
// (§4.4, §5).
package cycledriver

import (
	"fmt"
	"time"

	"github.com/r3e-network/evo-core/internal/config"
	"github.com/r3e-network/evo-core/internal/evostate"
	"github.com/r3e-network/evo-core/internal/fibonacci"
	"github.com/r3e-network/evo-core/internal/gatestack"
	"github.com/r3e-network/evo-core/internal/ledger"
	"github.com/r3e-network/evo-core/internal/resource"
	"github.com/r3e-network/evo-core/internal/rng"
	"github.com/r3e-network/evo-core/internal/scoreengine"
)

// growThreshold is the delta_linf value above which trust_radius grows
// rather than shrinks (§4.4 step 10).
const growThreshold = 0.02

// trustGrowFactor and trustShrinkFactor are the fixed coefficients
// applied in the absence of a config override.
const (
	trustGrowFactor   = 1.1
	trustShrinkFactor = 0.9
)

// stepCoefficient is the published small positive coefficient applied
// to every improvement-bearing field in §4.4 step 9.
const stepCoefficient = 0.01

// ExternalMetrics is the cycle's raw external-measurement input: the
// subset State owns (ece, bias, rho, uncertainty, cpu, mem, consent,
// eco) plus the six sub-metrics that feed L-infinity directly
// (rsi, synergy, novelty, stability, viability, cost) and the
// remaining score-engine inputs that have no home on State.
type ExternalMetrics struct {
	Metrics map[string]float64
	Consent *bool
	Eco     *bool

	LInf    scoreengine.LInfInputs
	SR      scoreengine.SRInputs
	OCI     scoreengine.OCIInputs
	Modules [8]float64
	RhoBias float64
	Kappa   float64
	Budget  float64
}

// Outcome describes the terminal status of one cycle.
type Outcome string

const (
	OutcomePromoted       Outcome = "PROMOTED"
	OutcomeEthicsAbort    Outcome = "CYCLE_ABORT_ETHICS"
	OutcomeRiskContract   Outcome = "CYCLE_ABORT_IRIC_CONTRACT"
	OutcomeGateRollback   Outcome = "ROLLBACK_GATE"
	OutcomeNegativeStep   Outcome = "ROLLBACK_NEGATIVE_STEP"
)

// Result is what one Run call reports back to the caller.
type Result struct {
	Outcome    Outcome
	FailedGate string
	Scores     scoreengine.Result
	Step       float64
	LearningRate float64
	Row        ledger.Row
}

// Driver runs cycles against a single owned State, the only component
// permitted to mutate it (§4.4, §5).
type Driver struct {
	cfg      *config.Config
	state    *evostate.State
	rngSrc   *rng.Source
	tracker  *scoreengine.StabilityTracker
	sampler  resource.Sampler
	led      *ledger.Ledger
	clock    func() time.Time
	configHash string
}

// New builds a driver over state, owning it exclusively from this
// point on.
func New(cfg *config.Config, state *evostate.State, rngSrc *rng.Source, sampler resource.Sampler, led *ledger.Ledger, configHash string) *Driver {
	return &Driver{
		cfg:        cfg,
		state:      state,
		rngSrc:     rngSrc,
		tracker:    scoreengine.NewStabilityTracker(cfg.CaosPlus.EWMAAlpha, cfg.CaosPlus.MinStabilityCycles),
		sampler:    sampler,
		led:        led,
		clock:      time.Now,
		configHash: configHash,
	}
}

// State exposes a read-only view of the driver's current operating
// point.
func (d *Driver) State() evostate.View { return d.state.View() }

// Run executes a single cycle against ext, in the exact twelve-step
// sequence (§4.4).
func (d *Driver) Run(ext ExternalMetrics) (Result, error) {
	// Step 1: snapshot pre-state, record CYCLE_START with the RNG state
	// captured at this instant so replay from this row is exact.
	preState := d.state.Clone()
	d.state.BeginCycle(d.clock)
	rngState := d.rngSrc.GetState()
	if _, err := d.led.Record(ledger.EventCycleStart, map[string]interface{}{
		"cycle": preState.Cycle, "rng_state": rngState,
	}); err != nil {
		return Result{}, fmt.Errorf("cycledriver: record cycle_start: %w", err)
	}

	// Step 2: merge known external metrics; unknown keys ignored.
	d.state.MergeMetrics(ext.Metrics, ext.Consent, ext.Eco)

	// Step 3: sample resource metrics (fail-closed).
	cpu, mem := resource.Measure(d.sampler)
	d.state.SetResources(cpu, mem)

	// Step 4: ethics sub-gate.
	metrics := d.buildGateMetrics(ext)
	ethicsOutcomes := gatestack.EthicsSubGate(metrics, d.cfg)
	if !gatestack.AllPassed(ethicsOutcomes) {
		row, err := d.led.Record(ledger.EventCycleAbort, map[string]interface{}{
			"reason": "ethics", "gates": ethicsOutcomes,
		})
		if err != nil {
			return Result{}, fmt.Errorf("cycledriver: record cycle_abort: %w", err)
		}
		return Result{Outcome: OutcomeEthicsAbort, FailedGate: firstFailed(ethicsOutcomes), Row: row}, nil
	}

	// Step 5: risk/resource sub-gate; on failure contract rho and
	// uncertainty and abort.
	riskOutcomes := gatestack.RiskResourceSubGate(metrics, d.cfg)
	if !gatestack.AllPassed(riskOutcomes) {
		factor := d.cfg.IRIC.ContractionFactor
		if d.cfg.Fibonacci.TrustRegion {
			factor = 1 / 1.618033988749895
		}
		d.state.Contract(factor)
		row, err := d.led.Record(ledger.EventCycleAbort, map[string]interface{}{
			"reason": "IRIC_CONTRACT", "gates": riskOutcomes,
		})
		if err != nil {
			return Result{}, fmt.Errorf("cycledriver: record cycle_abort: %w", err)
		}
		return Result{Outcome: OutcomeRiskContract, FailedGate: firstFailed(riskOutcomes), Row: row}, nil
	}

	// Step 6: compute scores.
	ethicsOK := gatestack.AllPassed(ethicsOutcomes)
	riskOK := gatestack.AllPassed(riskOutcomes)
	inputs := scoreengine.Inputs{
		LInf: ext.LInf, SR: ext.SR, OCI: ext.OCI, Modules: ext.Modules,
		C: d.state.C, A: d.state.A, O: d.state.O, S: d.state.S,
		EthicsOK: ethicsOK, RiskOK: riskOK,
	}
	scores := scoreengine.Compute(d.cfg, inputs, d.state.LInfPrev, d.rngSrc, d.tracker)
	d.state.SetScores(scores.LInf, d.state.C, d.state.A, d.state.O, scores.SR, scores.G, scores.OCI)

	// Step 7: remaining gates.
	metrics.SR = scores.SR
	metrics.G = scores.G
	metrics.DeltaLInf = scores.DeltaLInf
	metrics.Kappa = d.cfg.CaosPlus.Kappa
	remaining := gatestack.RemainingGates(metrics, d.cfg)
	if !gatestack.AllPassed(remaining) {
		all := append(append(append([]gatestack.Outcome{}, ethicsOutcomes...), riskOutcomes...), remaining...)
		row, err := d.led.Record(ledger.EventRollback, map[string]interface{}{
			"reason": "gate_failure", "gates": all,
		})
		if err != nil {
			return Result{}, fmt.Errorf("cycledriver: record rollback: %w", err)
		}
		return Result{Outcome: OutcomeGateRollback, FailedGate: firstFailed(remaining), Scores: scores, Row: row}, nil
	}

	// Step 8: compute the raw step, optionally refined by a
	// one-dimensional line search over a learning-rate multiplier.
	step := scores.AlphaOmega * scores.DeltaLInf
	learningRate := 1.0
	if d.cfg.Fibonacci.Enabled {
		surrogate := func(lr float64) float64 { return -(step * lr) * (step * lr) + 2*(step*lr)*step }
		method := fibonacci.MethodGolden
		if d.cfg.Fibonacci.SearchMethod == "fibonacci" {
			method = fibonacci.MethodFibonacci
		}
		learningRate = fibonacci.Maximize(surrogate, 0.5, 1.5, 1e-4, method)
	}
	finalStep := step * learningRate

	// Step 9: mutate state in place with the published coefficients.
	d.state.ApplyStep(evostate.StepCoefficients{
		CDelta: stepCoefficient, ADelta: stepCoefficient, ODelta: stepCoefficient, SDelta: stepCoefficient,
	})

	// Step 10: optionally modulate trust_radius.
	if d.cfg.Fibonacci.TrustRegion {
		d.state.ModulateTrustRadius(scores.DeltaLInf, growThreshold, d.cfg.Fibonacci.TrustGrowth, d.cfg.Fibonacci.TrustShrink)
	}

	// Step 11: promote or roll back depending on the sign of the final step.
	var row ledger.Row
	var err error
	var outcome Outcome
	if finalStep > 0 {
		gateTrace := append(append(append([]gatestack.Outcome{}, ethicsOutcomes...), riskOutcomes...), remaining...)
		row, err = d.led.RecordPromoteAttest(preState.View(), d.state.View(), gateTrace, d.rngSrc.GetState(), d.configHash, finalStep)
		outcome = OutcomePromoted
	} else {
		row, err = d.led.Record(ledger.EventRollback, map[string]interface{}{"reason": "NEGATIVE_STEP", "step": finalStep})
		outcome = OutcomeNegativeStep
	}
	if err != nil {
		return Result{}, fmt.Errorf("cycledriver: record step outcome: %w", err)
	}

	// Step 12: advance the cycle counter and publish MASTER_EQ.
	d.state.IncrementCycle()
	if _, err := d.led.Record(ledger.EventMasterEq, map[string]interface{}{
		"cycle": d.state.Cycle, "l_inf": scores.LInf, "caos_plus": scores.CaosPlus.Value,
		"sr": scores.SR, "g": scores.G, "oci": scores.OCI, "alpha_omega": scores.AlphaOmega,
		"step": finalStep,
	}); err != nil {
		return Result{}, fmt.Errorf("cycledriver: record master_eq: %w", err)
	}

	return Result{Outcome: outcome, Scores: scores, Step: step, LearningRate: learningRate, Row: row}, nil
}

// buildGateMetrics assembles the gate-stack Metrics struct from the
// driver's current state and the cycle's external inputs, prior to
// scoring (the SR/G/DeltaLInf fields are filled in after step 6).
func (d *Driver) buildGateMetrics(ext ExternalMetrics) gatestack.Metrics {
	return gatestack.Metrics{
		Rho: d.state.Rho, ECE: d.state.ECE, RhoBias: ext.RhoBias,
		Cost: ext.LInf.Cost, Budget: ext.Budget, Kappa: ext.Kappa,
		Consent: d.state.Consent, EcoOK: d.state.Eco,
		CPU: d.state.CPU, Mem: d.state.Mem, Uncertainty: d.state.Uncertainty,
	}
}

func firstFailed(outcomes []gatestack.Outcome) string {
	for _, o := range outcomes {
		if !o.Passed {
			return o.GateName
		}
	}
	return ""
}
