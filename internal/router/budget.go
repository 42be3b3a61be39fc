// Package router implements the dispatch component (C5): budget
// tracking, per-provider circuit breakers, a signed multi-level cache,
// and cost-ascending fallback across the closed provider set.
package router

import (
	"sync"
	"time"
)

// auditHistoryCap is the ring-buffer size for the request audit trail
// (§4.5.1, §8 budget-reset law).
const auditHistoryCap = 1000

// defaultSoftLimitRatio is the fraction of daily_limit_usd at which a
// soft-limit warning is first raised (§4.5.1).
const defaultSoftLimitRatio = 0.95

// RequestRecord is one entry in the audit ring buffer.
type RequestRecord struct {
	Timestamp time.Time
	Provider  string
	Tokens    int
	CostUSD   float64
	Success   bool
}

// ProviderStats accumulates per-provider totals.
type ProviderStats struct {
	RequestsTotal   int
	RequestsSuccess int
	RequestsFailed  int
	TokensTotal     int
	CostTotalUSD    float64
}

// SuccessRate returns the provider's success fraction in [0,1], or 0
// if it has never been called.
func (s ProviderStats) SuccessRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.RequestsSuccess) / float64(s.RequestsTotal)
}

// Usage is a read-only snapshot of the tracker's current state, safe
// to export as-is (e.g. to the `status` CLI command or metrics).
type Usage struct {
	SpendTodayUSD   float64
	DailyLimitUSD   float64
	RemainingUSD    float64
	UsagePct        float64
	TokensConsumed  int
	RequestsCount   int
	SoftLimitHit    bool
	HardLimitHit    bool
	ProviderStats   map[string]ProviderStats
}

// nowFunc is overridable in tests so UTC-midnight reset can be
// exercised deterministically without sleeping real time.
var nowFunc = time.Now

// BudgetTracker tracks daily USD spend, tokens, and request count
// against a hard limit, with a soft-limit warning threshold, resetting
// automatically at UTC midnight (§4.5.1).
type BudgetTracker struct {
	mu sync.Mutex

	dailyLimitUSD  float64
	softLimitRatio float64

	spendTodayUSD  float64
	tokensConsumed int
	requestsCount  int
	providerStats  map[string]*ProviderStats
	history        []RequestRecord

	currentDayStamp int
	softLimitHit    bool
	hardLimitHit    bool
}

// NewBudgetTracker builds a tracker with dailyLimitUSD as the hard cap
// and the default 95% soft-limit ratio.
func NewBudgetTracker(dailyLimitUSD float64) *BudgetTracker {
	return &BudgetTracker{
		dailyLimitUSD:   dailyLimitUSD,
		softLimitRatio:  defaultSoftLimitRatio,
		providerStats:   make(map[string]*ProviderStats),
		currentDayStamp: utcDayStamp(nowFunc()),
	}
}

func utcDayStamp(t time.Time) int {
	u := t.UTC()
	return u.Year()*10000 + int(u.Month())*100 + u.Day()
}

// checkAndResetIfNewDayLocked resets all counters when the UTC day
// stamp has rolled over. Must be called with mu held.
func (b *BudgetTracker) checkAndResetIfNewDayLocked() {
	day := utcDayStamp(nowFunc())
	if day != b.currentDayStamp {
		b.resetLocked()
		b.currentDayStamp = day
	}
}

func (b *BudgetTracker) resetLocked() {
	b.spendTodayUSD = 0
	b.tokensConsumed = 0
	b.requestsCount = 0
	b.providerStats = make(map[string]*ProviderStats)
	b.history = nil
	b.softLimitHit = false
	b.hardLimitHit = false
}

// Reset forces an immediate reset, independent of the UTC day check.
func (b *BudgetTracker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

// CanProceed reports whether a request estimated at costUSD would
// keep spend_today_usd at or below daily_limit_usd (§4.5 step 1: the
// router must reject immediately if this is false).
func (b *BudgetTracker) CanProceed(costUSD float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkAndResetIfNewDayLocked()
	return b.spendTodayUSD+costUSD <= b.dailyLimitUSD
}

// IsHardLimitReached reports whether spend has already reached the
// daily limit.
func (b *BudgetTracker) IsHardLimitReached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkAndResetIfNewDayLocked()
	if b.dailyLimitUSD <= 0 {
		return true
	}
	return b.spendTodayUSD/b.dailyLimitUSD >= 1.0
}

// IsSoftLimitReached reports whether spend has crossed
// soft_ratio*daily_limit.
func (b *BudgetTracker) IsSoftLimitReached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkAndResetIfNewDayLocked()
	if b.dailyLimitUSD <= 0 {
		return true
	}
	return b.spendTodayUSD/b.dailyLimitUSD >= b.softLimitRatio
}

// Record accounts a completed (or failed) request against the
// tracker's totals, per-provider stats, and audit history (§4.5 step 4).
func (b *BudgetTracker) Record(provider string, tokens int, costUSD float64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkAndResetIfNewDayLocked()

	b.spendTodayUSD += costUSD
	b.tokensConsumed += tokens
	b.requestsCount++

	stats, ok := b.providerStats[provider]
	if !ok {
		stats = &ProviderStats{}
		b.providerStats[provider] = stats
	}
	stats.RequestsTotal++
	if success {
		stats.RequestsSuccess++
	} else {
		stats.RequestsFailed++
	}
	stats.TokensTotal += tokens
	stats.CostTotalUSD += costUSD

	b.history = append(b.history, RequestRecord{
		Timestamp: nowFunc(), Provider: provider, Tokens: tokens, CostUSD: costUSD, Success: success,
	})
	if len(b.history) > auditHistoryCap {
		b.history = b.history[len(b.history)-auditHistoryCap:]
	}

	if b.dailyLimitUSD > 0 {
		ratio := b.spendTodayUSD / b.dailyLimitUSD
		if ratio >= b.softLimitRatio {
			b.softLimitHit = true
		}
		if ratio >= 1.0 {
			b.hardLimitHit = true
		}
	}
}

// GetUsage returns a read-only snapshot of the tracker's state.
func (b *BudgetTracker) GetUsage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkAndResetIfNewDayLocked()

	usagePct := 1.0
	remaining := 0.0
	if b.dailyLimitUSD > 0 {
		usagePct = b.spendTodayUSD / b.dailyLimitUSD
		if usagePct > 1 {
			usagePct = 1
		}
		remaining = b.dailyLimitUSD - b.spendTodayUSD
		if remaining < 0 {
			remaining = 0
		}
	}

	stats := make(map[string]ProviderStats, len(b.providerStats))
	for name, s := range b.providerStats {
		stats[name] = *s
	}

	return Usage{
		SpendTodayUSD: b.spendTodayUSD, DailyLimitUSD: b.dailyLimitUSD,
		RemainingUSD: remaining, UsagePct: usagePct,
		TokensConsumed: b.tokensConsumed, RequestsCount: b.requestsCount,
		SoftLimitHit: b.softLimitHit, HardLimitHit: b.hardLimitHit,
		ProviderStats: stats,
	}
}

// History returns a copy of the audit ring buffer, oldest first.
func (b *BudgetTracker) History() []RequestRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RequestRecord, len(b.history))
	copy(out, b.history)
	return out
}
