package fibonacci

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaximizeGoldenFindsPeak(t *testing.T) {
	f := func(x float64) float64 { return -(x-2)*(x-2) + 10 }
	x := Maximize(f, 0, 5, 1e-6, MethodGolden)
	require.InDelta(t, 2.0, x, 1e-3)
}

func TestMaximizeFibonacciFindsPeak(t *testing.T) {
	f := func(x float64) float64 { return -(x-3)*(x-3) + 5 }
	x := Maximize(f, 0, 6, 1e-4, MethodFibonacci)
	require.InDelta(t, 3.0, x, 1e-2)
}

func TestMaximizeDegenerateInterval(t *testing.T) {
	x := Maximize(func(float64) float64 { return 0 }, 2, 2, 1e-6, MethodGolden)
	require.Equal(t, 2.0, x)
}

func TestZeckendorfSumsToN(t *testing.T) {
	for _, n := range []uint64{0, 1, 4, 17, 100, 999} {
		parts := Zeckendorf(n)
		var sum uint64
		for _, p := range parts {
			sum += p
		}
		require.Equal(t, n, sum, "n=%d", n)
	}
}

func TestZeckendorfNoConsecutiveFibonacci(t *testing.T) {
	parts := Zeckendorf(100)
	require.NotEmpty(t, parts)
	// Adjacent Fibonacci numbers satisfy F(k+1) <= 2*F(k); two that are
	// not adjacent are more than a factor of two apart.
	for i := 1; i < len(parts); i++ {
		require.Greater(t, parts[i-1], 2*parts[i], "parts=%v", parts)
	}
}

func TestZeckendorfTagFormat(t *testing.T) {
	tag := ZeckendorfTag(4)
	require.Equal(t, "Z{3+1}", tag)

	require.Equal(t, "Z{0}", ZeckendorfTag(0))
}

func TestPatternScoreBounded(t *testing.T) {
	require.GreaterOrEqual(t, PatternScore(0, 0, 0, 0), 0.0)
	require.LessOrEqual(t, PatternScore(1, 1, 1, 1), 1.0)
}
