package router

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/evo-core/infrastructure/cache"
	"github.com/r3e-network/evo-core/internal/providers"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, strategy Strategy) *Router {
	t.Helper()
	withFixedNow(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	budget := NewBudgetTracker(100.0)
	c := cache.New(cache.NewLRULevel(16), cache.WithSecret([]byte("test-secret")))
	return New(budget, c, strategy)
}

func TestDispatchHappyPath(t *testing.T) {
	r := newTestRouter(t, StrategyCheapest)
	r.Register(providers.NewFixtureProvider("alpha"), 0.9, 0.1)

	resp, err := r.Dispatch(context.Background(), providers.Request{Messages: []providers.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "alpha", resp.Provider)
}

func TestDispatchCacheHitSkipsNewCost(t *testing.T) {
	r := newTestRouter(t, StrategyCheapest)
	r.Register(providers.NewFixtureProvider("alpha"), 0.9, 0.1)
	req := providers.Request{Messages: []providers.Message{{Role: "user", Content: "hi"}}}

	_, err := r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	spendAfterFirst := r.Budget().GetUsage().SpendTodayUSD

	_, err = r.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, spendAfterFirst, r.Budget().GetUsage().SpendTodayUSD, "cache hit must not record new cost")
}

func TestDispatchBudgetHardBlock(t *testing.T) {
	withFixedNow(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	budget := NewBudgetTracker(0.0001)
	c := cache.New(cache.NewLRULevel(16))
	r := New(budget, c, StrategyCheapest)
	r.Register(providers.NewFixtureProvider("alpha"), 0.9, 0.1)

	budget.Record("alpha", 1, 1.0, true) // exhaust it directly

	_, err := r.Dispatch(context.Background(), providers.Request{})
	require.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestDispatchFallsBackOnPrimaryFailure(t *testing.T) {
	r := newTestRouter(t, StrategyCheapest)
	failing := providers.NewFixtureProvider("alpha")
	failing.Fail = true
	r.Register(failing, 0.9, 0.1)
	r.Register(providers.NewFixtureProvider("beta"), 0.8, 0.1)

	resp, err := r.Dispatch(context.Background(), providers.Request{})
	require.NoError(t, err)
	require.Equal(t, "beta", resp.Provider)
}

func TestDispatchNoProviderAvailableWhenEmpty(t *testing.T) {
	r := newTestRouter(t, StrategyCheapest)
	_, err := r.Dispatch(context.Background(), providers.Request{})
	require.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestDispatchExcludesOpenBreakers(t *testing.T) {
	r := newTestRouter(t, StrategyCheapest)
	failing := providers.NewFixtureProvider("alpha")
	failing.Fail = true
	r.Register(failing, 0.9, 0.1)
	r.Register(providers.NewFixtureProvider("beta"), 0.8, 0.1)

	// Trip alpha's breaker with 3 consecutive failures via direct dispatch.
	// Each call uses a distinct message so the cache never short-circuits
	// it before the provider is actually reached.
	for i := 0; i < 3; i++ {
		content := []providers.Message{{Role: "user", Content: string(rune('a' + i))}}
		_, _ = r.Dispatch(context.Background(), providers.Request{Messages: content})
	}

	candidates := r.candidateOrder()
	require.NotContains(t, candidates, "alpha")
}

func TestCandidateOrderExcludesUnavailableHTTPProvider(t *testing.T) {
	r := newTestRouter(t, StrategyCheapest)
	keyless := providers.NewHTTPProvider("openai", "gpt", "https://api.openai.com/v1/chat/completions", "")
	r.Register(keyless, 0.9, 0.5)
	r.Register(providers.NewFixtureProvider("fixture"), 0.7, 0.1)

	candidates := r.candidateOrder()
	require.NotContains(t, candidates, "openai")
	require.Contains(t, candidates, "fixture")
}

func TestDispatchNoProviderAvailableWhenOnlyKeylessHTTPProviderRegistered(t *testing.T) {
	r := newTestRouter(t, StrategyCheapest)
	keyless := providers.NewHTTPProvider("openai", "gpt", "https://api.openai.com/v1/chat/completions", "")
	r.Register(keyless, 0.9, 0.5)

	_, err := r.Dispatch(context.Background(), providers.Request{})
	require.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestCandidateOrderIsCostAscendingUnderCheapestStrategy(t *testing.T) {
	r := newTestRouter(t, StrategyCheapest)
	cheap := providers.NewFixtureProvider("cheap")
	cheap.CostUSD = 0.001
	pricey := providers.NewFixtureProvider("pricey")
	pricey.CostUSD = 0.1
	r.Register(pricey, 0.9, 0.1)
	r.Register(cheap, 0.9, 0.1)

	order := r.candidateOrder()
	require.Equal(t, []string{"cheap", "pricey"}, order)
}
