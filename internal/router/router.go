package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/r3e-network/evo-core/infrastructure/cache"
	"github.com/r3e-network/evo-core/infrastructure/resilience"
	"github.com/r3e-network/evo-core/internal/providers"

	"github.com/r3e-network/evo-core/infrastructure/fallback"
)

// Strategy selects which registered provider is tried first.
type Strategy string

const (
	StrategyCheapest   Strategy = "cheapest"
	StrategyBestValue  Strategy = "best_value" // quality-per-USD
	StrategyFastest    Strategy = "fastest"
	StrategyBalanced   Strategy = "balanced"   // unweighted sum of cost, 1-quality and expected latency; availability is not scored
	maxFallbackAlternates = 3
	defaultCacheTTL       = 5 * time.Minute
)

// ErrBudgetExhausted is returned when the budget tracker's hard limit
// blocks dispatch before any provider is attempted (§4.5 step 1).
var ErrBudgetExhausted = errors.New("router: daily budget hard limit reached")

// ErrNoProviderAvailable is returned when every candidate provider's
// breaker is OPEN or the registered set is empty.
var ErrNoProviderAvailable = errors.New("router: no provider available")

// registration pairs a provider with router-visible quality/latency
// hints used by strategy selection; Quality and ExpectedLatencyS are
// static operator-supplied hints, not measured at runtime.
type registration struct {
	provider         providers.Provider
	quality          float64
	expectedLatencyS float64
}

// Router dispatches chat requests to one of a closed set of registered
// providers per the selected Strategy, enforcing budget, breaker, and
// cache policy before and after every dispatch (§4.5).
type Router struct {
	budget   *BudgetTracker
	breakers *BreakerRegistry
	cache    *cache.SignedCache
	handler  *fallback.Handler
	strategy Strategy

	registrations map[string]registration
	order         []string // registration order, for stable iteration
}

// New builds a Router against the given budget tracker and cache,
// with strategy as the default provider-selection policy.
func New(budget *BudgetTracker, c *cache.SignedCache, strategy Strategy) *Router {
	return &Router{
		budget:        budget,
		breakers:      NewBreakerRegistry(),
		cache:         c,
		handler:       fallback.NewHandler(fallback.DefaultConfig()),
		strategy:      strategy,
		registrations: make(map[string]registration),
	}
}

// Register adds a provider to the closed candidate set with the
// quality/latency hints strategy selection uses.
func (r *Router) Register(p providers.Provider, quality, expectedLatencyS float64) {
	name := p.Name()
	if _, exists := r.registrations[name]; !exists {
		r.order = append(r.order, name)
	}
	r.registrations[name] = registration{provider: p, quality: quality, expectedLatencyS: expectedLatencyS}
}

// Breakers exposes the registry for status reporting.
func (r *Router) Breakers() *BreakerRegistry { return r.breakers }

// Budget exposes the tracker for status reporting.
func (r *Router) Budget() *BudgetTracker { return r.budget }

// cacheKey derives a deterministic lookup key for a request, stable
// across process restarts (the key space is shared by every provider
// queried with the same request, per §4.5.3).
func cacheKey(req providers.Request) string {
	canonical, _ := json.Marshal(req)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// availabilityChecker is implemented by providers that can be disabled
// without being unregistered, e.g. an HTTPProvider with no API key
// configured (§6.7). Providers that don't implement it are always
// eligible.
type availabilityChecker interface {
	Available() bool
}

// candidateOrder returns registered provider names ordered by the
// router's strategy, filtering out any whose breaker is OPEN (allowing
// HALF_OPEN providers to take their single probe slot) or that report
// themselves unavailable.
func (r *Router) candidateOrder() []string {
	type scored struct {
		name  string
		score float64
	}
	var eligible []scored
	for _, name := range r.order {
		state := r.breakers.State(name)
		if state == resilience.StateOpen {
			continue
		}
		reg := r.registrations[name]
		if av, ok := reg.provider.(availabilityChecker); ok && !av.Available() {
			continue
		}
		eligible = append(eligible, scored{name: name, score: r.strategyScore(reg)})
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].score < eligible[j].score })

	names := make([]string, len(eligible))
	for i, e := range eligible {
		names[i] = e.name
	}
	return names
}

// strategyScore returns a lower-is-better score for reg under the
// router's configured strategy.
func (r *Router) strategyScore(reg registration) float64 {
	cost := reg.provider.CostPerRequest()
	switch r.strategy {
	case StrategyFastest:
		return reg.expectedLatencyS
	case StrategyBestValue:
		if reg.quality <= 0 {
			return cost * 1e9
		}
		return cost / reg.quality
	case StrategyBalanced:
		normCost := cost
		normQuality := 1 - reg.quality
		normLatency := reg.expectedLatencyS
		return normCost + normQuality + normLatency
	case StrategyCheapest:
		fallthrough
	default:
		return cost
	}
}

// Dispatch selects a provider, consults the cache, and otherwise calls
// through the breaker/budget pipeline, falling back across up to
// maxFallbackAlternates alternates on failure (§4.5).
func (r *Router) Dispatch(ctx context.Context, req providers.Request) (providers.Response, error) {
	if r.budget.IsHardLimitReached() {
		return providers.Response{}, ErrBudgetExhausted
	}

	key := cacheKey(req)
	if r.cache != nil {
		if raw, hit := r.cache.Get(key); hit {
			var cached providers.Response
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	candidates := r.candidateOrder()
	if len(candidates) == 0 {
		return providers.Response{}, ErrNoProviderAvailable
	}
	if len(candidates) > 1+maxFallbackAlternates {
		candidates = candidates[:1+maxFallbackAlternates]
	}

	attempts := make([]fallback.Attempt, 0, len(candidates))
	for _, name := range candidates {
		name := name
		reg := r.registrations[name]
		attempts = append(attempts, fallback.Attempt{
			Name: name,
			Fn: func(ctx context.Context) (interface{}, error) {
				return r.callOne(ctx, reg.provider, req)
			},
		})
	}

	result := r.handler.Execute(ctx, attempts)
	if result.Err != nil {
		return providers.Response{}, result.Err
	}

	resp := result.Value.(providers.Response)
	if r.cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			r.cache.Set(key, raw, defaultCacheTTL)
		}
	}
	return resp, nil
}

// callOne runs one provider call through its breaker, recording the
// outcome against both the breaker and the budget tracker regardless
// of success or failure (§4.5 step 4).
func (r *Router) callOne(ctx context.Context, p providers.Provider, req providers.Request) (providers.Response, error) {
	var resp providers.Response
	callErr := r.breakers.Execute(p.Name(), func() error {
		var err error
		resp, err = p.Chat(ctx, req)
		return err
	})

	if callErr != nil {
		r.budget.Record(p.Name(), 0, 0, false)
		return providers.Response{}, callErr
	}

	r.budget.Record(p.Name(), resp.TokensIn+resp.TokensOut, resp.CostUSD, true)
	return resp, nil
}
