package router

import (
	"errors"
	"testing"

	"github.com/r3e-network/evo-core/infrastructure/resilience"
	"github.com/stretchr/testify/require"
)

func TestBreakerRegistryStartsClosed(t *testing.T) {
	reg := NewBreakerRegistry()
	require.Equal(t, resilience.StateClosed, reg.State("openai"))
}

func TestBreakerRegistryOpensAfterConsecutiveFailures(t *testing.T) {
	reg := NewBreakerRegistry()
	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = reg.Execute("openai", func() error { return failing })
	}
	require.Equal(t, resilience.StateOpen, reg.State("openai"))
}

func TestBreakerRegistryIsolatesPerProvider(t *testing.T) {
	reg := NewBreakerRegistry()
	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = reg.Execute("openai", func() error { return failing })
	}
	require.Equal(t, resilience.StateOpen, reg.State("openai"))
	require.Equal(t, resilience.StateClosed, reg.State("anthropic"))
}

func TestBreakerRegistrySnapshotReflectsCreatedBreakersOnly(t *testing.T) {
	reg := NewBreakerRegistry()
	reg.State("openai")
	snapshot := reg.Snapshot()
	require.Contains(t, snapshot, "openai")
	require.NotContains(t, snapshot, "anthropic")
}
