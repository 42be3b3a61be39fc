package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteReturnsPrimaryOnSuccess(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Millisecond})
	attempts := []Attempt{
		{Name: "primary", Fn: func(ctx context.Context) (interface{}, error) { return "ok", nil }},
		{Name: "alt1", Fn: func(ctx context.Context) (interface{}, error) { return nil, errors.New("unreached") }},
	}
	result := h.Execute(context.Background(), attempts)
	require.NoError(t, result.Err)
	require.Equal(t, "ok", result.Value)
	require.Equal(t, "primary", result.Source)
	require.Equal(t, 1, result.Attempts)
}

func TestExecuteFallsThroughToAlternate(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Millisecond})
	attempts := []Attempt{
		{Name: "primary", Fn: func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") }},
		{Name: "alt1", Fn: func(ctx context.Context) (interface{}, error) { return "fallback-value", nil }},
	}
	result := h.Execute(context.Background(), attempts)
	require.NoError(t, result.Err)
	require.Equal(t, "fallback-value", result.Value)
	require.Equal(t, "alt1", result.Source)
	require.Equal(t, 2, result.Attempts)
}

func TestExecuteExhaustsAllAttempts(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Millisecond})
	attempts := []Attempt{
		{Name: "primary", Fn: func(ctx context.Context) (interface{}, error) { return nil, errors.New("e1") }},
		{Name: "alt1", Fn: func(ctx context.Context) (interface{}, error) { return nil, errors.New("e2") }},
	}
	result := h.Execute(context.Background(), attempts)
	require.Error(t, result.Err)
	require.Equal(t, "exhausted", result.Source)
	require.Equal(t, 2, result.Attempts)
}

func TestExecuteHonoursContextCancellation(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := []Attempt{
		{Name: "primary", Fn: func(ctx context.Context) (interface{}, error) { return nil, errors.New("fail") }},
		{Name: "alt1", Fn: func(ctx context.Context) (interface{}, error) { return "never", nil }},
	}
	result := h.Execute(ctx, attempts)
	require.ErrorIs(t, result.Err, context.Canceled)
}
