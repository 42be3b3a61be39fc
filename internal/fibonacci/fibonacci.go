// Package fibonacci implements the two well-defined capabilities the
// original source's "Fibonacci content" reduces to: a one-dimensional
// maximiser over a continuous interval (golden-section or Fibonacci
// search) and a canonical Zeckendorf tag encoder. Neither changes gate
// semantics; both are cosmetic refinements over the cycle driver's
// step size and ledger rows respectively.
package fibonacci

import "math"

// phi is the golden ratio, used by golden-section search and as the
// reciprocal target of PatternScore.
const phi = 1.618033988749895

// SearchMethod selects the line-search algorithm.
type SearchMethod string

const (
	MethodGolden    SearchMethod = "golden"
	MethodFibonacci SearchMethod = "fibonacci"
)

// Maximize finds the x in [lo, hi] maximising f to within tol, using
// method. Returns the best x found.
func Maximize(f func(float64) float64, lo, hi, tol float64, method SearchMethod) float64 {
	if hi <= lo {
		return lo
	}
	switch method {
	case MethodFibonacci:
		return fibonacciSearch(f, lo, hi, tol)
	default:
		return goldenSectionSearch(f, lo, hi, tol)
	}
}

func goldenSectionSearch(f func(float64) float64, lo, hi, tol float64) float64 {
	const resphi = 2 - phi
	x1 := lo + resphi*(hi-lo)
	x2 := hi - resphi*(hi-lo)
	f1, f2 := f(x1), f(x2)

	for hi-lo > tol {
		if f1 > f2 {
			hi = x2
			x2 = x1
			f2 = f1
			x1 = lo + resphi*(hi-lo)
			f1 = f(x1)
		} else {
			lo = x1
			x1 = x2
			f1 = f2
			x2 = hi - resphi*(hi-lo)
			f2 = f(x2)
		}
	}
	return (lo + hi) / 2
}

// fibonacciSearch approximates the golden-section search using the
// ratio of consecutive Fibonacci numbers instead of phi directly;
// converges to the same optimum for smooth unimodal f.
func fibonacciSearch(f func(float64) float64, lo, hi, tol float64) float64 {
	n := 2
	fibs := []uint64{1, 1}
	for n < 4 || float64(hi-lo)/float64(fibs[n-1]) > tol {
		fibs = append(fibs, fibs[n-1]+fibs[n-2])
		n++
	}
	n-- // fibs[n] is the largest Fibonacci number computed

	a, b := lo, hi
	x1 := a + float64(fibs[n-2])/float64(fibs[n])*(b-a)
	x2 := a + float64(fibs[n-1])/float64(fibs[n])*(b-a)
	f1, f2 := f(x1), f(x2)

	for k := n; k > 2; k-- {
		if f1 > f2 {
			b = x2
			x2 = x1
			f2 = f1
			x1 = a + float64(fibs[k-3])/float64(fibs[k-1])*(b-a)
			f1 = f(x1)
		} else {
			a = x1
			x1 = x2
			f1 = f2
			x2 = a + float64(fibs[k-2])/float64(fibs[k-1])*(b-a)
			f2 = f(x2)
		}
	}
	return (a + b) / 2
}

// Zeckendorf returns the Zeckendorf representation of n (n >= 0) as a
// descending list of non-consecutive Fibonacci numbers summing to n.
func Zeckendorf(n uint64) []uint64 {
	if n == 0 {
		return nil
	}
	fibs := []uint64{1, 2}
	for fibs[len(fibs)-1] < n {
		fibs = append(fibs, fibs[len(fibs)-1]+fibs[len(fibs)-2])
	}

	var out []uint64
	remaining := n
	for i := len(fibs) - 1; i >= 0 && remaining > 0; i-- {
		if fibs[i] <= remaining {
			out = append(out, fibs[i])
			remaining -= fibs[i]
		}
	}
	return out
}

// ZeckendorfTag renders n's Zeckendorf representation as the canonical
// "Z{a+b+c}" label used as an optional ledger-row tag (§3.2, §9).
func ZeckendorfTag(n uint64) string {
	parts := Zeckendorf(n)
	if len(parts) == 0 {
		return "Z{0}"
	}
	tag := "Z{"
	for i, p := range parts {
		if i > 0 {
			tag += "+"
		}
		tag += itoa(p)
	}
	tag += "}"
	return tag
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// PatternScore computes a bounded Fibonacci-pattern strength score over
// the CAOS tuple, used by the CAOS+ EWMA stability tracker as the
// signal it averages. It is deliberately simple: a normalised distance
// from each component to the golden ratio's reciprocal, averaged.
func PatternScore(c, a, o, s float64) float64 {
	target := 1 / phi
	d := math.Abs(c-target) + math.Abs(a-target) + math.Abs(o-target) + math.Abs(s-target)
	score := 1 - d/4
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
