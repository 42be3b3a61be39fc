// Package config loads and validates the strongly typed configuration
// described in §6.4: weight vectors, thresholds, and the CAOS+/Fibonacci
// tuning knobs that drive the score engine and gate stack. Every
// violation is fatal at startup and reported as a single aggregated
// error, never swallowed.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	appconfig "github.com/r3e-network/evo-core/infrastructure/config"
	"github.com/r3e-network/evo-core/infrastructure/errors"
)

// Ethics holds the ethics gate thresholds.
type Ethics struct {
	ECEMax           float64 `yaml:"ece_max"`
	RhoBiasMax       float64 `yaml:"rho_bias_max"`
	ConsentRequired  bool    `yaml:"consent_required"`
	EcoOKRequired    bool    `yaml:"eco_ok_required"`
}

// IRIC holds the risk-contraction thresholds.
type IRIC struct {
	RhoMax            float64 `yaml:"rho_max"`
	ContractionFactor float64 `yaml:"contraction_factor"`
}

// CaosPlus holds the CAOS+ amplifier tuning.
type CaosPlus struct {
	Kappa              float64 `yaml:"kappa"`
	PMin               float64 `yaml:"pmin"`
	PMax               float64 `yaml:"pmax"`
	ChaosProbability   float64 `yaml:"chaos_probability"`
	MaxBoost           float64 `yaml:"max_boost"`
	EWMAAlpha          float64 `yaml:"ewma_alpha"`
	MinStabilityCycles int     `yaml:"min_stability_cycles"`
}

// SROmega holds the reflexivity weights and threshold.
type SROmega struct {
	Weights [4]float64 `yaml:"weights"` // {C_cal, E_ok, M, A_eff}
	TauSR   float64    `yaml:"tau_sr"`
}

// OmegaSigma holds the global-coherence weights and threshold.
type OmegaSigma struct {
	Weights [8]float64 `yaml:"weights"`
	TauG    float64    `yaml:"tau_g"`
}

// OCI holds the organisational-coherence weights and threshold.
type OCI struct {
	Weights [4]float64 `yaml:"weights"` // {memory, flow, policy, feedback}
	TauOCI  float64    `yaml:"tau_oci"`
}

// LInfPlacar holds the L-infinity sub-metric weights and cost penalty.
type LInfPlacar struct {
	Weights [6]float64 `yaml:"weights"` // {rsi, synergy, novelty, stability, viability, 1-cost}
	LambdaC float64    `yaml:"lambda_c"`
}

// Fibonacci holds the optional line-search / cache-TTL knobs.
type Fibonacci struct {
	Enabled      bool    `yaml:"enabled"`
	Cache        bool    `yaml:"cache"`
	TrustRegion  bool    `yaml:"trust_region"`
	L1TTLBase    int     `yaml:"l1_ttl_base"`
	L2TTLBase    int     `yaml:"l2_ttl_base"`
	MaxIntervalS int     `yaml:"max_interval_s"`
	TrustGrowth  float64 `yaml:"trust_growth"`
	TrustShrink  float64 `yaml:"trust_shrink"`
	SearchMethod string  `yaml:"search_method"` // "fibonacci" | "golden"
}

// Thresholds holds the promotion thresholds not owned by a weight group.
type Thresholds struct {
	TauCaos float64 `yaml:"tau_caos"`
	BetaMin float64 `yaml:"beta_min"`
}

// Evolution holds the step-size seed configuration.
type Evolution struct {
	Alpha0 float64 `yaml:"alpha_0"`
	Seed   *int64  `yaml:"seed"`
}

// Config is the full validated configuration tree (§6.4).
type Config struct {
	Ethics     Ethics     `yaml:"ethics"`
	IRIC       IRIC       `yaml:"iric"`
	CaosPlus   CaosPlus   `yaml:"caos_plus"`
	SROmega    SROmega    `yaml:"sr_omega"`
	OmegaSigma OmegaSigma `yaml:"omega_sigma"`
	OCI        OCI        `yaml:"oci"`
	LInf       LInfPlacar `yaml:"linf_placar"`
	Fibonacci  Fibonacci  `yaml:"fibonacci"`
	Thresholds Thresholds `yaml:"thresholds"`
	Evolution  Evolution  `yaml:"evolution"`
}

// Default returns the configuration with every default named in §4.2,
// §4.3, and §6.4.
func Default() *Config {
	return &Config{
		Ethics: Ethics{
			ECEMax: 0.01, RhoBiasMax: 1.05, ConsentRequired: true, EcoOKRequired: true,
		},
		IRIC: IRIC{RhoMax: 0.95, ContractionFactor: 0.98},
		CaosPlus: CaosPlus{
			Kappa: 20, PMin: 0, PMax: 10, ChaosProbability: 0.05,
			MaxBoost: 0.05, EWMAAlpha: 0.2, MinStabilityCycles: 5,
		},
		SROmega:    SROmega{Weights: [4]float64{0.25, 0.25, 0.25, 0.25}, TauSR: 0.80},
		OmegaSigma: OmegaSigma{Weights: [8]float64{0.125, 0.125, 0.125, 0.125, 0.125, 0.125, 0.125, 0.125}, TauG: 0.85},
		OCI:        OCI{Weights: [4]float64{0.25, 0.25, 0.25, 0.25}, TauOCI: 0.80},
		LInf: LInfPlacar{
			Weights: [6]float64{1.0 / 6, 1.0 / 6, 1.0 / 6, 1.0 / 6, 1.0 / 6, 1.0 / 6},
			LambdaC: 0.5,
		},
		Fibonacci: Fibonacci{
			Enabled: true, Cache: true, TrustRegion: true,
			L1TTLBase: 60, L2TTLBase: 300, MaxIntervalS: 3600,
			TrustGrowth: 1.1, TrustShrink: 0.9, SearchMethod: "golden",
		},
		Thresholds: Thresholds{TauCaos: 0.0, BetaMin: 0.01},
		Evolution:  Evolution{Alpha0: 0.1, Seed: nil},
	}
}

// Load reads a YAML file at path, applies environment overrides, and
// validates the result. An empty path loads the defaults; environment
// overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.ConfigInvalid(fmt.Sprintf("reading config file: %v", err))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ConfigInvalid(fmt.Sprintf("parsing config file: %v", err))
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if seed, ok := appconfig.ParseEnvInt("EVO_SEED"); ok {
		s := int64(seed)
		cfg.Evolution.Seed = &s
	}
	cfg.Evolution.Alpha0 = appconfig.GetEnvFloat("EVO_ALPHA0", cfg.Evolution.Alpha0)
}

const weightSumTolerance = 0.01

func sumOK(weights []float64) bool {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	return sum >= 1.0-weightSumTolerance && sum <= 1.0+weightSumTolerance
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// Validate checks every weight vector sums to 1.0+-0.01 and every
// threshold lies in its published range (§6.4). It aggregates all
// violations found into one error.
func (c *Config) Validate() error {
	var problems []string

	if !inRange(c.Ethics.ECEMax, 0, 1) {
		problems = append(problems, "ethics.ece_max must be in [0,1]")
	}
	if !inRange(c.Ethics.RhoBiasMax, 1, 2) {
		problems = append(problems, "ethics.rho_bias_max must be in [1,2]")
	}

	if !inRange(c.IRIC.RhoMax, 0, 1) {
		problems = append(problems, "iric.rho_max must be in [0,1]")
	}
	if !inRange(c.IRIC.ContractionFactor, 0.5, 1) {
		problems = append(problems, "iric.contraction_factor must be in [0.5,1]")
	}

	if !inRange(c.CaosPlus.Kappa, 0, 50) {
		problems = append(problems, "caos_plus.kappa must be in [0,50]")
	}
	if !inRange(c.CaosPlus.PMin, 0, 1) {
		problems = append(problems, "caos_plus.pmin must be in [0,1]")
	}
	if !inRange(c.CaosPlus.PMax, 1, 10) {
		problems = append(problems, "caos_plus.pmax must be in [1,10]")
	}
	if !inRange(c.CaosPlus.ChaosProbability, 0, 0.1) {
		problems = append(problems, "caos_plus.chaos_probability must be in [0,0.1]")
	}
	if !inRange(c.CaosPlus.MaxBoost, 0, 0.1) {
		problems = append(problems, "caos_plus.max_boost must be in [0,0.1]")
	}
	if !inRange(c.CaosPlus.EWMAAlpha, 0.1, 0.5) {
		problems = append(problems, "caos_plus.ewma_alpha must be in [0.1,0.5]")
	}
	if c.CaosPlus.MinStabilityCycles < 3 || c.CaosPlus.MinStabilityCycles > 20 {
		problems = append(problems, "caos_plus.min_stability_cycles must be in [3,20]")
	}

	if !sumOK(c.SROmega.Weights[:]) {
		problems = append(problems, "sr_omega weights must sum to 1.0+-0.01")
	}
	if !inRange(c.SROmega.TauSR, 0, 1) {
		problems = append(problems, "sr_omega.tau_sr must be in [0,1]")
	}

	if !sumOK(c.OmegaSigma.Weights[:]) {
		problems = append(problems, "omega_sigma weights must sum to 1.0+-0.01")
	}
	if !inRange(c.OmegaSigma.TauG, 0, 1) {
		problems = append(problems, "omega_sigma.tau_g must be in [0,1]")
	}

	if !sumOK(c.OCI.Weights[:]) {
		problems = append(problems, "oci weights must sum to 1.0+-0.01")
	}
	if !inRange(c.OCI.TauOCI, 0, 1) {
		problems = append(problems, "oci.tau_oci must be in [0,1]")
	}

	if !sumOK(c.LInf.Weights[:]) {
		problems = append(problems, "linf_placar weights must sum to 1.0+-0.01")
	}
	if !inRange(c.LInf.LambdaC, 0, 1) {
		problems = append(problems, "linf_placar.lambda_c must be in [0,1]")
	}

	if c.Fibonacci.SearchMethod != "fibonacci" && c.Fibonacci.SearchMethod != "golden" {
		problems = append(problems, "fibonacci.search_method must be 'fibonacci' or 'golden'")
	}

	if !inRange(c.Thresholds.BetaMin, 0, 0.1) {
		problems = append(problems, "thresholds.beta_min must be in [0,0.1]")
	}

	if !inRange(c.Evolution.Alpha0, 0.01, 1) {
		problems = append(problems, "evolution.alpha_0 must be in [0.01,1]")
	}

	if len(problems) > 0 {
		return errors.ConfigInvalid(strings.Join(problems, "; "))
	}
	return nil
}
