// Package evostate defines the evolving operating point (C1): the
// single record mutated once per cycle by the cycle driver and observed
// as an immutable view by every other component.
package evostate

import "time"

// State is the current operating point. It is exclusively owned by the
// cycle driver; every write clamps [0,1]-bounded fields and every read
// by another component must go through a copy (View).
type State struct {
	// Identity & time
	Cycle uint64
	TS    time.Time

	// Performance scalars
	LInf     float64
	LInfPrev float64
	DeltaLInf float64
	C, A, O, S float64
	SRScore  float64
	GScore   float64
	OCIScore float64
	CPU, Mem float64
	Rho         float64
	Uncertainty float64

	// Ethical flags
	ECE     float64
	Bias    float64
	Consent bool
	Eco     bool
	SigmaOK bool

	// Control
	Alpha0      float64
	AlphaOmega  float64
	TrustRadius float64
	KillSwitch  bool
}

// New returns a State with the documented starting values: neutral
// performance scalars, ethics flags set permissive, alpha_0 and
// trust_radius at their configured defaults.
func New(alpha0, trustRadius float64, seed int64) *State {
	return &State{
		Cycle:       0,
		TS:          time.Time{},
		LInf:        0,
		LInfPrev:    0,
		C:           0.5,
		A:           0.5,
		O:           0.5,
		S:           0.5,
		SRScore:     0.5,
		GScore:      0.5,
		OCIScore:    0.5,
		CPU:         0,
		Mem:         0,
		Rho:         0,
		Uncertainty: 0,
		ECE:         0,
		Bias:        1.0,
		Consent:     true,
		Eco:         true,
		SigmaOK:     true,
		Alpha0:      alpha0,
		AlphaOmega:  alpha0,
		TrustRadius: trustRadius,
		KillSwitch:  false,
	}
}

// clamp01 clamps v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// View is an immutable, value-copy snapshot of State handed to the
// score engine, gate stack, and router during one cycle. Taking a View
// never mutates the source State.
type View struct {
	Cycle      uint64
	TS         time.Time
	LInf       float64
	LInfPrev   float64
	DeltaLInf  float64
	C, A, O, S float64
	SRScore    float64
	GScore     float64
	OCIScore   float64
	CPU, Mem   float64
	Rho         float64
	Uncertainty float64
	ECE     float64
	Bias    float64
	Consent bool
	Eco     bool
	SigmaOK bool
	Alpha0      float64
	AlphaOmega  float64
	TrustRadius float64
	KillSwitch  bool
}

// View returns a value-copy snapshot of s.
func (s *State) View() View {
	return View{
		Cycle: s.Cycle, TS: s.TS,
		LInf: s.LInf, LInfPrev: s.LInfPrev, DeltaLInf: s.DeltaLInf,
		C: s.C, A: s.A, O: s.O, S: s.S,
		SRScore: s.SRScore, GScore: s.GScore, OCIScore: s.OCIScore,
		CPU: s.CPU, Mem: s.Mem,
		Rho: s.Rho, Uncertainty: s.Uncertainty,
		ECE: s.ECE, Bias: s.Bias, Consent: s.Consent, Eco: s.Eco, SigmaOK: s.SigmaOK,
		Alpha0: s.Alpha0, AlphaOmega: s.AlphaOmega, TrustRadius: s.TrustRadius, KillSwitch: s.KillSwitch,
	}
}

// Clone returns a deep value copy of s, suitable as the ledger's
// pre-state snapshot (§4.4 step 1, §5 shared-resource policy iv).
func (s *State) Clone() *State {
	cp := *s
	return &cp
}

// BeginCycle sets ts from clock and publishes l_inf_prev, bumping
// neither the cycle counter nor l_inf itself — that happens when the
// driver commits the step.
func (s *State) BeginCycle(clock func() time.Time) {
	s.TS = clock()
	s.LInfPrev = s.LInf
}

// SetScores writes the score-engine outputs for this cycle, clamping
// every [0,1] field and recomputing delta_linf.
func (s *State) SetScores(lInf, c, a, o, sr, g, oci float64) {
	s.LInf = clamp01(lInf)
	s.DeltaLInf = s.LInf - s.LInfPrev
	s.C = clamp01(c)
	s.A = clamp01(a)
	s.O = clamp01(o)
	s.SRScore = clamp01(sr)
	s.GScore = clamp01(g)
	s.OCIScore = clamp01(oci)
}

// SetResources pins cpu/mem, clamped to [0,1].
func (s *State) SetResources(cpu, mem float64) {
	s.CPU = clamp01(cpu)
	s.Mem = clamp01(mem)
}

// Contract applies the IRIC contraction rule: rho and uncertainty are
// multiplied by factor (§4.4 step 5).
func (s *State) Contract(factor float64) {
	s.Rho = clamp01(s.Rho * factor)
	s.Uncertainty = clamp01(s.Uncertainty * factor)
}

// StepCoefficients are the per-field deltas of a cycle's state mutation.
// ApplyStep reads only CDelta, ADelta, ODelta and SDelta; State has no
// rsi, synergy, novelty, stability, viability, cost, C_cal, M or A_eff
// field, so the remaining coefficients are not applied.
type StepCoefficients struct {
	RSI, Synergy, Novelty, Stability, Viability float64
	CostDelta                                  float64
	CDelta, ADelta, ODelta, SDelta              float64
	CalDelta, MDelta, AEffDelta                 float64
}

// ApplyStep adds CDelta, ADelta, ODelta and SDelta to C, A, O and S,
// clamping each to [0,1]; the other coefficients are not read.
func (s *State) ApplyStep(coef StepCoefficients) {
	s.C = clamp01(s.C + coef.CDelta)
	s.A = clamp01(s.A + coef.ADelta)
	s.O = clamp01(s.O + coef.ODelta)
	s.S = clamp01(s.S + coef.SDelta)
}

// knownMetricKeys is the recognised set of external-metric keys (§4.4
// step 2); unrecognised keys are ignored. Of these, MergeMetrics writes
// only ece, bias, rho, uncertainty, cpu and mem to State.
var knownMetricKeys = map[string]bool{
	"rsi": true, "synergy": true, "novelty": true, "stability": true,
	"viability": true, "cost": true, "ece": true, "bias": true,
	"consent": true, "eco": true, "rho": true, "uncertainty": true,
	"cpu": true, "mem": true,
}

// MergeMetrics folds external metrics into ethics/risk fields, ignoring
// any key not in the recognised set.
func (s *State) MergeMetrics(metrics map[string]float64, consent, eco *bool) {
	for k, v := range metrics {
		if !knownMetricKeys[k] {
			continue
		}
		switch k {
		case "ece":
			s.ECE = v
		case "bias":
			s.Bias = v
		case "rho":
			s.Rho = clamp01(v)
		case "uncertainty":
			s.Uncertainty = clamp01(v)
		case "cpu":
			s.CPU = clamp01(v)
		case "mem":
			s.Mem = clamp01(v)
		}
	}
	if consent != nil {
		s.Consent = *consent
	}
	if eco != nil {
		s.Eco = *eco
	}
}

// IncrementCycle advances the monotone cycle counter; it never
// decreases.
func (s *State) IncrementCycle() {
	s.Cycle++
}

// ModulateTrustRadius grows or shrinks trust_radius depending on
// whether deltaLInf exceeds the growth threshold (§4.4 step 10),
// bounded to [0.01, 0.5].
func (s *State) ModulateTrustRadius(deltaLInf, growThreshold, growFactor, shrinkFactor float64) {
	if deltaLInf > growThreshold {
		s.TrustRadius *= growFactor
	} else {
		s.TrustRadius *= shrinkFactor
	}
	if s.TrustRadius < 0.01 {
		s.TrustRadius = 0.01
	}
	if s.TrustRadius > 0.5 {
		s.TrustRadius = 0.5
	}
}
