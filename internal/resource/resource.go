// Package resource samples system-wide CPU and memory utilisation for the
// cycle driver's resource-availability guard (§4.3). When a real
// measurement is unavailable, callers must fail closed: the spec
// requires cpu and mem to be pinned to 0.99 so the risk sub-gate denies
// the cycle rather than silently passing.
package resource

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// FailClosedValue is the fraction (cpu or mem, out of 1.0) substituted
// when a real measurement cannot be taken.
const FailClosedValue = 0.99

// Sampler reads current CPU and memory utilisation as fractions in
// [0,1]. Real implementations may fail; Sample reports ok=false rather
// than returning a fabricated value, leaving the fail-closed decision
// to the caller (§4.3's guard, not this package).
type Sampler interface {
	Sample() (cpuFrac, memFrac float64, ok bool)
}

// GopsutilSampler reads real system-wide CPU and memory utilisation
// via github.com/shirou/gopsutil/v3.
type GopsutilSampler struct{}

// Sample returns the current system-wide CPU utilisation (average
// across all cores, instantaneous) and memory utilisation.
func (GopsutilSampler) Sample() (float64, float64, bool) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil || len(cpuPercents) == 0 {
		return 0, 0, false
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, false
	}
	return cpuPercents[0] / 100.0, vm.UsedPercent / 100.0, true
}

// Measure samples cpu/mem via sampler, substituting the fail-closed
// value for both if the sample is unavailable.
func Measure(sampler Sampler) (cpuFrac, memFrac float64) {
	c, m, ok := sampler.Sample()
	if !ok {
		return FailClosedValue, FailClosedValue
	}
	return c, m
}
