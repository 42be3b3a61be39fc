package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixtureProviderChatIsDeterministic(t *testing.T) {
	p := NewFixtureProvider("alpha")
	req := Request{Messages: []Message{{Role: "user", Content: "ping"}}}

	r1, err1 := p.Chat(context.Background(), req)
	r2, err2 := p.Chat(context.Background(), req)

	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, r1, r2)
	require.Equal(t, "alpha", r1.Provider)
	require.Contains(t, r1.Content, "ping")
}

func TestFixtureProviderFailureKind(t *testing.T) {
	p := NewFixtureProvider("beta")
	p.Fail = true
	p.FailKind = FailureRateLimited

	_, err := p.Chat(context.Background(), Request{})
	require.Error(t, err)

	failure, ok := err.(*Failure)
	require.True(t, ok)
	require.Equal(t, FailureRateLimited, failure.Kind)
}

func TestFixtureProviderRespectsCancellation(t *testing.T) {
	p := NewFixtureProvider("gamma")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Chat(ctx, Request{})
	require.Error(t, err)
	failure, ok := err.(*Failure)
	require.True(t, ok)
	require.Equal(t, FailureCancelled, failure.Kind)
}

func TestFixtureProviderCostPerRequest(t *testing.T) {
	p := NewFixtureProvider("delta")
	p.CostUSD = 0.02
	require.Equal(t, 0.02, p.CostPerRequest())
}
