package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/evo-core/infrastructure/cache"
	"github.com/r3e-network/evo-core/infrastructure/errors"
	"github.com/r3e-network/evo-core/internal/config"
	"github.com/r3e-network/evo-core/internal/providers"
	"github.com/r3e-network/evo-core/internal/router"
)

func newTestRouter(t *testing.T) *router.Router {
	t.Helper()
	tracker := router.NewBudgetTracker(10.0)
	c := cache.New(cache.NewLRULevel(16), cache.WithSecret([]byte("test-secret")))
	return router.New(tracker, c, router.StrategyBestValue)
}

func requestStub() providers.Request {
	return providers.Request{Messages: []providers.Message{{Role: "user", Content: "ping"}}, Temperature: 0.1}
}

func TestExitCodeForMapsServiceErrorCodes(t *testing.T) {
	require.Equal(t, exitConfigInvalid, exitCodeFor(errors.ConfigInvalid("bad weights")))
	require.Equal(t, exitGateViolation, exitCodeFor(errors.GateViolation("kappa", 1, 20)))
	require.Equal(t, exitGateViolation, exitCodeFor(errors.BudgetExceeded(11, 10)))
	require.Equal(t, exitOperationalError, exitCodeFor(errors.Internal("boom", nil)))
	require.Equal(t, exitOperationalError, exitCodeFor(fmt.Errorf("plain error")))
}

func TestRunUnknownSubcommandIsUsageError(t *testing.T) {
	err := run(context.Background(), []string{"bogus"})
	require.Error(t, err)
}

func TestRunNoArgsIsUsageError(t *testing.T) {
	err := run(context.Background(), nil)
	require.Error(t, err)
}

func TestSnapshotSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	state, rngSrc, err := loadOrInitState(cfg, dir)
	require.NoError(t, err)
	state.Cycle = 7
	state.LInf = 0.42

	require.NoError(t, saveSnapshot(dir, "checkpoint", state, rngSrc))

	reloaded, reloadedRNG, err := loadOrInitState(cfg, dir)
	require.NoError(t, err)
	require.Equal(t, uint64(7), reloaded.Cycle)
	require.InDelta(t, 0.42, reloaded.LInf, 1e-9)
	require.Equal(t, rngSrc.GetState(), reloadedRNG.GetState())
}

func TestLoadOrInitStateWithNoPriorSnapshotIsFresh(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	state, _, err := loadOrInitState(cfg, dir)
	require.NoError(t, err)
	require.Equal(t, uint64(0), state.Cycle)
	require.Equal(t, cfg.Evolution.Alpha0, state.Alpha0)
}

func TestDefaultPathsRespectRootDirEnv(t *testing.T) {
	t.Setenv("EVO_ROOT_DIR", "/tmp/evocore-test-root")
	require.Equal(t, filepath.Join("/tmp/evocore-test-root", "ledger.db"), defaultLedgerPath())
	require.Equal(t, filepath.Join("/tmp/evocore-test-root", "state"), defaultStateDir())
}

func TestRegisterProvidersDryRunRegistersFixtureOnly(t *testing.T) {
	rt := newTestRouter(t)
	registerProviders(rt, "openai", true)
	_, err := rt.Dispatch(context.Background(), requestStub())
	require.NoError(t, err)
}

func TestRegisterProvidersWithoutAPIKeyLeavesHTTPProviderUnavailable(t *testing.T) {
	rt := newTestRouter(t)
	registerProviders(rt, "openai", false)

	resp, err := rt.Dispatch(context.Background(), requestStub())
	require.NoError(t, err)
	require.Equal(t, "fixture", resp.Provider, "the keyless HTTP registration must be skipped in favor of the fixture")
}

// TestRunEvolveAbortsCycleOnBudgetExhaustionInsteadOfRunningOnZeroCost
// exercises the full "evolve" CLI path (§7): once the router's hard
// budget limit blocks every remaining dispatch, the command must stop
// and surface a budget-exceeded error rather than keep running cycles
// against a synthetic zero-cost reading.
func TestRunEvolveAbortsCycleOnBudgetExhaustionInsteadOfRunningOnZeroCost(t *testing.T) {
	dir := t.TempDir()
	args := []string{
		"evolve",
		"--cycles", "5",
		"--dry-run",
		"--budget", "0.0005",
		"--ledger", filepath.Join(dir, "ledger.db"),
		"--state-dir", filepath.Join(dir, "state"),
	}
	err := run(context.Background(), args)
	require.Error(t, err)
	require.Equal(t, exitGateViolation, exitCodeFor(err))
}
