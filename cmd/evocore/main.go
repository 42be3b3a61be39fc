// Command evocore is the one binary exposing the evolution loop's CLI
// surface (§6.6): evolve, ledger verify, snapshot save/load, status.
package main

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/evo-core/infrastructure/cache"
	appconfig "github.com/r3e-network/evo-core/infrastructure/config"
	"github.com/r3e-network/evo-core/infrastructure/errors"
	"github.com/r3e-network/evo-core/infrastructure/logging"
	"github.com/r3e-network/evo-core/infrastructure/metrics"
	filestate "github.com/r3e-network/evo-core/infrastructure/state"
	"github.com/r3e-network/evo-core/internal/config"
	"github.com/r3e-network/evo-core/internal/cycledriver"
	"github.com/r3e-network/evo-core/internal/evostate"
	"github.com/r3e-network/evo-core/internal/ledger"
	"github.com/r3e-network/evo-core/internal/providers"
	"github.com/r3e-network/evo-core/internal/resource"
	"github.com/r3e-network/evo-core/internal/rng"
	"github.com/r3e-network/evo-core/internal/router"
	"github.com/r3e-network/evo-core/internal/scoreengine"
)

// Exit codes (§6.6).
const (
	exitSuccess          = 0
	exitOperationalError = 1
	exitGateViolation    = 2
	exitConfigInvalid    = 3
)

const rootUsage = `evocore - self-improving control engine

Usage:
  evocore evolve --cycles N [--budget USD] [--provider NAME] [--dry-run] [--config PATH]
  evocore ledger verify [--ledger PATH]
  evocore snapshot save [TAG] [--state-dir DIR]
  evocore snapshot load ID [--state-dir DIR]
  evocore status [--ledger PATH] [--state-dir DIR]
`

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the published exit-code contract.
func exitCodeFor(err error) int {
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		switch svcErr.Code {
		case errors.ErrCodeConfigInvalid:
			return exitConfigInvalid
		case errors.ErrCodeGateViolation, errors.ErrCodeBudgetExceeded:
			return exitGateViolation
		}
	}
	return exitOperationalError
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError(fmt.Errorf("no subcommand given"))
	}
	switch args[0] {
	case "evolve":
		return runEvolve(ctx, args[1:])
	case "ledger":
		return runLedger(args[1:])
	case "snapshot":
		return runSnapshot(args[1:])
	case "status":
		return runStatus(args[1:])
	case "-h", "--help", "help":
		fmt.Print(rootUsage)
		return nil
	default:
		return usageError(fmt.Errorf("unknown subcommand %q", args[0]))
	}
}

func usageError(err error) error {
	fmt.Fprint(os.Stderr, rootUsage)
	return err
}

func rootDir() string {
	return appconfig.GetEnv("EVO_ROOT_DIR", ".")
}

func defaultLedgerPath() string {
	return filepath.Join(rootDir(), "ledger.db")
}

func defaultStateDir() string {
	return filepath.Join(rootDir(), "state")
}

// --- evolve -----------------------------------------------------------

func runEvolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evolve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cycles := fs.Int("cycles", 1, "number of cycles to run")
	budget := fs.Float64("budget", 0, "daily budget override in USD (0 keeps the config default)")
	provider := fs.String("provider", "fixture", "provider name to register for this run")
	dryRun := fs.Bool("dry-run", false, "use the deterministic fixture provider regardless of --provider")
	configPath := fs.String("config", "", "path to a YAML config file (defaults embedded otherwise)")
	ledgerPath := fs.String("ledger", defaultLedgerPath(), "path to the ledger database file")
	stateDir := fs.String("state-dir", defaultStateDir(), "directory holding the last saved snapshot")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	log := logging.NewFromEnv("evocore")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if v := appconfig.GetEnvFloat("EVO_BUDGET_USD", 0); v > 0 {
		*budget = v
	}

	led, err := ledger.Open(*ledgerPath)
	if err != nil {
		return errors.Internal("opening ledger", err)
	}
	defer led.Close()

	state, rngSrc, err := loadOrInitState(cfg, *stateDir)
	if err != nil {
		return err
	}

	dailyLimit := *budget
	if dailyLimit <= 0 {
		dailyLimit = 10.0
	}
	tracker := router.NewBudgetTracker(dailyLimit)
	cacheSecret := []byte(appconfig.GetEnv("EVO_CACHE_SECRET", "evocore-dev-secret"))
	signedCache := cache.New(cache.NewLRULevel(256), cache.WithSecret(cacheSecret))
	rt := router.New(tracker, signedCache, router.StrategyBestValue)
	registerProviders(rt, *provider, *dryRun)

	sampler := resource.GopsutilSampler{}
	configHash := configFingerprint(cfg)
	driver := cycledriver.New(cfg, state, rngSrc, sampler, led, configHash)

	for i := 0; i < *cycles; i++ {
		cost, dispatchErr := dispatchOne(ctx, rt)
		if dispatchErr != nil {
			if _, err := led.Record(ledger.EventCycleAbort, map[string]interface{}{
				"reason": "no_provider", "detail": dispatchErr.Error(),
			}); err != nil {
				return errors.Internal("recording dispatch abort", err)
			}
			if err := saveSnapshot(*stateDir, "auto", state, rngSrc); err != nil {
				return errors.Internal("saving snapshot after abort", err)
			}
			if goerrors.Is(dispatchErr, router.ErrBudgetExhausted) {
				return errors.BudgetExceeded(tracker.GetUsage().SpendTodayUSD, dailyLimit)
			}
			return errors.NoProviderAvailable(nil)
		}

		ext := syntheticExternals(rngSrc, dailyLimit)
		ext.LInf.Cost = cost
		result, err := driver.Run(ext)
		if err != nil {
			return errors.Internal("running cycle", err)
		}
		log.Info(ctx, "cycle complete", map[string]interface{}{
			"outcome": string(result.Outcome), "failed_gate": result.FailedGate, "step": result.Step,
		})
		if result.Outcome != cycledriver.OutcomePromoted && result.Outcome != cycledriver.OutcomeNegativeStep {
			if err := saveSnapshot(*stateDir, "auto", state, rngSrc); err != nil {
				return errors.Internal("saving snapshot after abort", err)
			}
			return errors.GateViolation(result.FailedGate, 0, 0)
		}
	}

	if err := saveSnapshot(*stateDir, "auto", state, rngSrc); err != nil {
		return errors.Internal("saving snapshot", err)
	}
	return nil
}

// registerProviders registers the fixture provider under --dry-run,
// otherwise an HTTP-backed provider whose key comes from the
// environment (§6.7); an absent key leaves the provider registered
// but Available() false rather than erroring.
func registerProviders(rt *router.Router, name string, dryRun bool) {
	if dryRun || name == "" || name == "fixture" {
		rt.Register(providers.NewFixtureProvider("fixture"), 0.8, 0.5)
		return
	}
	envKey := "EVO_PROVIDER_" + strings.ToUpper(name) + "_API_KEY"
	apiKey := appconfig.GetEnv(envKey, "")
	endpoint := appconfig.GetEnv("EVO_PROVIDER_"+strings.ToUpper(name)+"_ENDPOINT", "https://api.openai.com/v1/chat/completions")
	rt.Register(providers.NewHTTPProvider(name, name, endpoint, apiKey), 0.9, 1.5)
	rt.Register(providers.NewFixtureProvider("fixture"), 0.7, 0.5)
}

// dispatchOne runs a single chat turn through the router, returning
// its reported cost. A dispatch failure is returned to the caller
// rather than absorbed: once every alternate is exhausted (all
// breakers OPEN, no key-bearing provider, or the daily budget hard
// limit), the failure is no longer a locally recoverable operational
// failure and must surface as a CYCLE_ABORT (§7).
func dispatchOne(ctx context.Context, rt *router.Router) (float64, error) {
	resp, err := rt.Dispatch(ctx, providers.Request{
		Messages:    []providers.Message{{Role: "user", Content: "report current operating status"}},
		Temperature: 0.2,
	})
	if err != nil {
		return 0, err
	}
	return resp.CostUSD, nil
}

// syntheticExternals builds a plausible, RNG-derived external-metrics
// reading for one cycle. The driver never talks to providers directly
// (§4.4); real deployments feed externally measured metrics here.
func syntheticExternals(src *rng.Source, budget float64) cycledriver.ExternalMetrics {
	jitter := func(base float64) float64 { return base + src.Range(-0.02, 0.02) }
	return cycledriver.ExternalMetrics{
		Metrics: map[string]float64{},
		LInf: scoreengine.LInfInputs{
			RSI: jitter(0.85), Synergy: jitter(0.85), Novelty: jitter(0.8),
			Stability: jitter(0.85), Viability: jitter(0.85), Cost: 0.05,
		},
		SR:      scoreengine.SRInputs{CCal: jitter(0.85), EOk: jitter(0.85), M: jitter(0.85), AEff: jitter(0.85)},
		OCI:     scoreengine.OCIInputs{Memory: jitter(0.85), Flow: jitter(0.85), Policy: jitter(0.85), Feedback: jitter(0.85)},
		Modules: [8]float64{0.85, 0.85, 0.85, 0.85, 0.85, 0.85, 0.85, 0.85},
		RhoBias: 1.0,
		Budget:  budget,
	}
}

func configFingerprint(cfg *config.Config) string {
	data, _ := json.Marshal(cfg)
	return fmt.Sprintf("%x", data[:minInt(len(data), 8)])
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- ledger -------------------------------------------------------------

func runLedger(args []string) error {
	if len(args) == 0 || args[0] != "verify" {
		return usageError(fmt.Errorf("expected \"ledger verify\""))
	}
	fs := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ledgerPath := fs.String("ledger", defaultLedgerPath(), "path to the ledger database file")
	if err := fs.Parse(args[1:]); err != nil {
		return usageError(err)
	}

	led, err := ledger.Open(*ledgerPath)
	if err != nil {
		return errors.Internal("opening ledger", err)
	}
	defer led.Close()

	brk, err := led.VerifyChain()
	if err != nil {
		return errors.Internal("verifying chain", err)
	}
	if brk == nil {
		fmt.Println("OK")
		return nil
	}
	fmt.Printf("BREAK at row %d: %s\n", brk.RowID, brk.Reason)
	return errors.LedgerIntegrity(brk.RowID, brk.Reason)
}

// --- snapshot -------------------------------------------------------------

// snapshotFile is the JSON document written by "snapshot save" and read
// back by "snapshot load" (§6.6): the full evostate.State plus the RNG
// source's replay state.
type snapshotFile struct {
	ID        string        `json:"id"`
	Tag       string        `json:"tag"`
	SavedAt   time.Time     `json:"saved_at"`
	State     evostate.View `json:"state"`
	RNG       rng.State     `json:"rng"`
}

func runSnapshot(args []string) error {
	if len(args) == 0 {
		return usageError(fmt.Errorf("expected \"snapshot save\" or \"snapshot load\""))
	}
	switch args[0] {
	case "save":
		return runSnapshotSave(args[1:])
	case "load":
		return runSnapshotLoad(args[1:])
	default:
		return usageError(fmt.Errorf("unknown snapshot subcommand %q", args[0]))
	}
}

func runSnapshotSave(args []string) error {
	fs := flag.NewFlagSet("snapshot save", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	stateDir := fs.String("state-dir", defaultStateDir(), "directory to write the snapshot into")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}
	tag := "untagged"
	if rest := fs.Args(); len(rest) > 0 {
		tag = rest[0]
	}

	cfg := config.Default()
	state, rngSrc, err := loadOrInitState(cfg, *stateDir)
	if err != nil {
		return err
	}
	if err := saveSnapshot(*stateDir, tag, state, rngSrc); err != nil {
		return errors.Internal("saving snapshot", err)
	}
	return nil
}

func runSnapshotLoad(args []string) error {
	fs := flag.NewFlagSet("snapshot load", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	stateDir := fs.String("state-dir", defaultStateDir(), "directory the snapshot was saved into")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return usageError(fmt.Errorf("snapshot load requires an ID"))
	}
	id := rest[0]

	backend, err := filestate.NewFileBackend(*stateDir)
	if err != nil {
		return errors.Internal("opening state directory", err)
	}
	data, err := backend.Load(context.Background(), id)
	if err != nil {
		return errors.NotFound("snapshot", id)
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Internal("decoding snapshot", err)
	}
	pretty, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(pretty))
	return nil
}

func saveSnapshot(stateDir, tag string, state *evostate.State, rngSrc *rng.Source) error {
	backend, err := filestate.NewFileBackend(stateDir)
	if err != nil {
		return err
	}
	snap := snapshotFile{
		ID:      uuid.NewString(),
		Tag:     tag,
		SavedAt: time.Now().UTC(),
		State:   state.View(),
		RNG:     rngSrc.GetState(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := backend.Save(context.Background(), snap.ID, data); err != nil {
		return err
	}
	return backend.Save(context.Background(), "latest", data)
}

// loadOrInitState restores the most recently saved snapshot from dir,
// if any, otherwise builds a fresh State at the config's defaults.
func loadOrInitState(cfg *config.Config, dir string) (*evostate.State, *rng.Source, error) {
	backend, err := filestate.NewFileBackend(dir)
	if err != nil {
		return nil, nil, errors.Internal("opening state directory", err)
	}
	seed := int64(0)
	if cfg.Evolution.Seed != nil {
		seed = *cfg.Evolution.Seed
	}

	data, err := backend.Load(context.Background(), "latest")
	if err != nil {
		state := evostate.New(cfg.Evolution.Alpha0, 0.1, seed)
		return state, rng.New(seed), nil
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, errors.Internal("decoding latest snapshot", err)
	}
	state := viewToState(snap.State)
	return state, rng.SetState(snap.RNG), nil
}

// viewToState rebuilds a mutable State from a persisted View; every
// field on View has a same-named field on State (state.go keeps them
// in lockstep).
func viewToState(v evostate.View) *evostate.State {
	state := evostate.New(v.Alpha0, v.TrustRadius, 0)
	state.Cycle = v.Cycle
	state.TS = v.TS
	state.LInf = v.LInf
	state.LInfPrev = v.LInfPrev
	state.DeltaLInf = v.DeltaLInf
	state.C, state.A, state.O, state.S = v.C, v.A, v.O, v.S
	state.SRScore, state.GScore, state.OCIScore = v.SRScore, v.GScore, v.OCIScore
	state.CPU, state.Mem = v.CPU, v.Mem
	state.Rho, state.Uncertainty = v.Rho, v.Uncertainty
	state.ECE, state.Bias = v.ECE, v.Bias
	state.Consent, state.Eco, state.SigmaOK = v.Consent, v.Eco, v.SigmaOK
	state.AlphaOmega = v.AlphaOmega
	state.KillSwitch = v.KillSwitch
	return state
}

// --- status -------------------------------------------------------------

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ledgerPath := fs.String("ledger", defaultLedgerPath(), "path to the ledger database file")
	stateDir := fs.String("state-dir", defaultStateDir(), "directory holding the last saved snapshot")
	serve := fs.Bool("serve", false, "instead of printing once, bind the metrics/health HTTP endpoint and block")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	cfg := config.Default()
	state, _, err := loadOrInitState(cfg, *stateDir)
	if err != nil {
		return err
	}

	led, err := ledger.Open(*ledgerPath)
	if err != nil {
		return errors.Internal("opening ledger", err)
	}
	defer led.Close()
	brk, err := led.VerifyChain()
	if err != nil {
		return errors.Internal("verifying chain", err)
	}

	if *serve {
		return serveMetrics(state, led)
	}

	report := map[string]interface{}{
		"cycle":       state.Cycle,
		"l_inf":       state.LInf,
		"trust_radius": state.TrustRadius,
		"ledger_tail": led.Tail(),
		"chain_ok":    brk == nil,
	}
	pretty, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(pretty))
	return nil
}

// serveMetrics binds the Prometheus metrics and health endpoints and
// blocks until SIGINT/SIGTERM (§6.5, §6.7 metrics bind host).
func serveMetrics(state *evostate.State, led *ledger.Ledger) error {
	host := appconfig.GetEnv("EVO_METRICS_HOST", "127.0.0.1")
	port := appconfig.GetEnv("EVO_METRICS_PORT", "9090")
	addr := host + ":" + port

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry("evocore", reg)
	m.RecordCycle(state.LInf, 0, state.SRScore, state.GScore, state.DeltaLInf, "status")

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		brk, err := led.VerifyChain()
		if err != nil || brk != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "ledger integrity check failed")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Internal("metrics server", err)
		}
	case <-sigCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Internal("shutting down metrics server", err)
		}
	}
	return nil
}
