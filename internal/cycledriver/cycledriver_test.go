package cycledriver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/r3e-network/evo-core/infrastructure/cache"
	"github.com/r3e-network/evo-core/internal/config"
	"github.com/r3e-network/evo-core/internal/evostate"
	"github.com/r3e-network/evo-core/internal/ledger"
	"github.com/r3e-network/evo-core/internal/providers"
	"github.com/r3e-network/evo-core/internal/rng"
	"github.com/r3e-network/evo-core/internal/router"
	"github.com/r3e-network/evo-core/internal/scoreengine"
	"github.com/stretchr/testify/require"
)

// fakeSampler always reports a fixed, healthy reading.
type fakeSampler struct{ cpu, mem float64 }

func (f fakeSampler) Sample() (float64, float64, bool) { return f.cpu, f.mem, true }

func newTestDriver(t *testing.T) (*Driver, *evostate.State) {
	t.Helper()
	cfg := config.Default()
	state := evostate.New(cfg.Evolution.Alpha0, 0.1, 42)
	state.C, state.A, state.O, state.S = 1.0, 1.0, 1.0, 1.0

	path := filepath.Join(t.TempDir(), "ledger.db")
	led, err := ledger.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	d := New(cfg, state, rng.New(42), fakeSampler{0.1, 0.1}, led, "test-config-hash")
	return d, state
}

func healthyExternals() ExternalMetrics {
	return ExternalMetrics{
		Metrics: map[string]float64{},
		LInf:    scoreengine.LInfInputs{RSI: 0.9, Synergy: 0.9, Novelty: 0.9, Stability: 0.9, Viability: 0.9, Cost: 0.05},
		SR:      scoreengine.SRInputs{CCal: 0.9, EOk: 0.9, M: 0.9, AEff: 0.9},
		OCI:     scoreengine.OCIInputs{Memory: 0.9, Flow: 0.9, Policy: 0.9, Feedback: 0.9},
		Modules: [8]float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9},
		RhoBias: 1.0,
		Budget:  1.0,
	}
}

func TestRunHappyPathPromotes(t *testing.T) {
	d, _ := newTestDriver(t)
	result, err := d.Run(healthyExternals())
	require.NoError(t, err)
	require.Equal(t, OutcomePromoted, result.Outcome)
	require.Greater(t, result.Step, 0.0)
	require.Equal(t, ledger.EventPromoteAttest, ledger.EventType(result.Row.EType))
}

func TestRunHappyPathAdvancesCycleAndWritesMasterEq(t *testing.T) {
	d, state := newTestDriver(t)
	_, err := d.Run(healthyExternals())
	require.NoError(t, err)
	require.Equal(t, uint64(1), state.Cycle)

	brk, err := d.led.VerifyChain()
	require.NoError(t, err)
	require.Nil(t, brk)
}

func TestRunEthicsAbortOnMissingConsent(t *testing.T) {
	d, _ := newTestDriver(t)
	ext := healthyExternals()
	no := false
	ext.Consent = &no

	result, err := d.Run(ext)
	require.NoError(t, err)
	require.Equal(t, OutcomeEthicsAbort, result.Outcome)
	require.Equal(t, "consent", result.FailedGate)
}

func TestRunRiskContractOnHighUncertainty(t *testing.T) {
	d, state := newTestDriver(t)
	state.Rho = 0.5
	ext := healthyExternals()
	ext.Metrics["uncertainty"] = 0.95

	result, err := d.Run(ext)
	require.NoError(t, err)
	require.Equal(t, OutcomeRiskContract, result.Outcome)
	require.Less(t, state.Rho, 0.5, "rho must be contracted after an IRIC_CONTRACT abort")
}

func TestRunGateRollbackOnLowReflexivity(t *testing.T) {
	d, _ := newTestDriver(t)
	ext := healthyExternals()
	ext.SR = scoreengine.SRInputs{CCal: 0.1, EOk: 0.1, M: 0.1, AEff: 0.1}

	result, err := d.Run(ext)
	require.NoError(t, err)
	require.Equal(t, OutcomeGateRollback, result.Outcome)
	require.Equal(t, "reflexivity", result.FailedGate)
}

func TestRunZeroStepRollsBackWithoutPromoting(t *testing.T) {
	cfg := config.Default()
	cfg.Evolution.Alpha0 = 0
	state := evostate.New(0, 0.1, 42)
	state.C, state.A, state.O, state.S = 1.0, 1.0, 1.0, 1.0

	path := filepath.Join(t.TempDir(), "ledger.db")
	led, err := ledger.Open(path)
	require.NoError(t, err)
	defer led.Close()

	d := New(cfg, state, rng.New(42), fakeSampler{0.1, 0.1}, led, "test-config-hash")
	result, err := d.Run(healthyExternals())
	require.NoError(t, err)
	require.Equal(t, OutcomeNegativeStep, result.Outcome)
	require.Equal(t, ledger.EventRollback, ledger.EventType(result.Row.EType))
}

func TestRunPreservesPriorCycleOnAbort(t *testing.T) {
	d, state := newTestDriver(t)
	before := state.Cycle
	ext := healthyExternals()
	no := false
	ext.Consent = &no

	_, err := d.Run(ext)
	require.NoError(t, err)
	require.Equal(t, before, state.Cycle, "an aborted cycle must not advance the cycle counter")
}

// TestRunWithDefaultStatePassesKappaGateOnConfiguredGain guards against
// feeding gate 8 the computed CAOS+ amplifier output instead of the
// configured gain: newTestDriver pins C=A=O=S=1.0, which pushes CAOS+
// itself above kappaMin and would mask that mixup. A fresh evostate.New
// state (C=A=O=S=0.5, CAOS+ ~= 1.56) only clears gate 8 when Kappa is
// read from cfg.CaosPlus.Kappa.
func TestRunWithDefaultStatePassesKappaGateOnConfiguredGain(t *testing.T) {
	cfg := config.Default()
	state := evostate.New(cfg.Evolution.Alpha0, 0.1, 42)

	path := filepath.Join(t.TempDir(), "ledger.db")
	led, err := ledger.Open(path)
	require.NoError(t, err)
	defer led.Close()

	d := New(cfg, state, rng.New(42), fakeSampler{0.1, 0.1}, led, "test-config-hash")
	result, err := d.Run(healthyExternals())
	require.NoError(t, err)
	require.NotEqual(t, "kappa", result.FailedGate)
	require.Equal(t, OutcomePromoted, result.Outcome)
}

// TestEndToEndRouterFeedsCycleCostThenLedgerVerifies exercises the full
// composition a real "evolve" run performs: a router dispatch supplies
// the cost fed into the cycle, the cycle promotes, and the ledger's
// hash chain stays intact afterward (§8 end-to-end scenarios).
func TestEndToEndRouterFeedsCycleCostThenLedgerVerifies(t *testing.T) {
	d, _ := newTestDriver(t)

	budget := router.NewBudgetTracker(10.0)
	signedCache := cache.New(cache.NewLRULevel(16), cache.WithSecret([]byte("test-secret")))
	rt := router.New(budget, signedCache, router.StrategyBestValue)
	rt.Register(providers.NewFixtureProvider("alpha"), 0.9, 0.1)

	resp, err := rt.Dispatch(context.Background(), providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "status"}},
	})
	require.NoError(t, err)

	ext := healthyExternals()
	ext.LInf.Cost = resp.CostUSD

	result, err := d.Run(ext)
	require.NoError(t, err)
	require.Equal(t, OutcomePromoted, result.Outcome)

	brk, err := d.led.VerifyChain()
	require.NoError(t, err)
	require.Nil(t, brk)
}

// TestEndToEndBudgetExhaustionNeverReachesDriver confirms the
// composition the "evolve" command relies on: the driver never talks
// to providers directly (§4.4), so a fully-exhausted router dispatch
// (every alternate's breaker OPEN or the hard budget limit reached)
// must be caught by the caller before d.Run is ever invoked, rather
// than degrading to a zero-cost reading and running the cycle anyway
// (§7 — exhaustion becomes a CYCLE_ABORT, not a cheap cycle).
func TestEndToEndBudgetExhaustionNeverReachesDriver(t *testing.T) {
	budget := router.NewBudgetTracker(0.0001)
	signedCache := cache.New(cache.NewLRULevel(16), cache.WithSecret([]byte("test-secret")))
	rt := router.New(budget, signedCache, router.StrategyBestValue)
	rt.Register(providers.NewFixtureProvider("alpha"), 0.9, 0.1)

	budget.Record("alpha", 100, 1.0, true) // exhaust the hard limit up front

	_, err := rt.Dispatch(context.Background(), providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "status"}},
	})
	require.ErrorIs(t, err, router.ErrBudgetExhausted)
}
