// Package cache provides a two-level signed cache: an in-process LRU (L1)
// backed by an optional slower tier (L2), both behind the same Level
// interface. Entries may carry an HMAC-SHA256 tag; a verification failure
// on read is reported as a miss, never as an error.
package cache

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is a single cached value plus its access bookkeeping.
type Entry struct {
	Value      []byte
	CreatedAt  time.Time
	AccessedAt time.Time
	AccessCount int64
	Expiration time.Time
	HasTTL     bool
	Signature  []byte
}

func (e *Entry) expired(now time.Time) bool {
	return e.HasTTL && now.After(e.Expiration)
}

// Level is one tier of the cache. Implementations need not be signed;
// signing is applied once, by SignedCache, above any Level.
type Level interface {
	Get(key string) (*Entry, bool)
	Set(key string, entry *Entry)
	Delete(key string)
	Len() int
}

// LRULevel is an in-process LRU level with TTL eviction on read.
type LRULevel struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Entry]
}

// NewLRULevel builds an LRU level holding at most size entries.
func NewLRULevel(size int) *LRULevel {
	if size <= 0 {
		size = 1000
	}
	c, _ := lru.New[string, *Entry](size)
	return &LRULevel{cache: c}
}

func (l *LRULevel) Get(key string) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		l.cache.Remove(key)
		return nil, false
	}
	return entry, true
}

func (l *LRULevel) Set(key string, entry *Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(key, entry)
}

func (l *LRULevel) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Remove(key)
}

func (l *LRULevel) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}

// SignedCache is the multi-level cache described in the router's cache
// contract: L1 required, L2 optional, identical key space, HMAC-signed
// values when a secret is configured.
type SignedCache struct {
	l1     Level
	l2     Level
	secret []byte
}

// Option configures a SignedCache at construction time.
type Option func(*SignedCache)

// WithL2 attaches a second, optional tier.
func WithL2(l2 Level) Option {
	return func(c *SignedCache) { c.l2 = l2 }
}

// WithSecret enables HMAC-SHA256 signing of stored values under secret.
func WithSecret(secret []byte) Option {
	return func(c *SignedCache) { c.secret = secret }
}

// New builds a SignedCache with the given L1 tier.
func New(l1 Level, opts ...Option) *SignedCache {
	c := &SignedCache{l1: l1}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SignedCache) sign(key string, value []byte) []byte {
	if len(c.secret) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write(value)
	return mac.Sum(nil)
}

func (c *SignedCache) verify(key string, entry *Entry) bool {
	if len(c.secret) == 0 {
		return true
	}
	want := c.sign(key, entry.Value)
	return subtle.ConstantTimeCompare(want, entry.Signature) == 1
}

// Get returns the value for key. A signature mismatch is treated
// identically to a missing key: (nil, false), no error.
func (c *SignedCache) Get(key string) ([]byte, bool) {
	now := time.Now()
	if entry, ok := c.l1.Get(key); ok {
		if !c.verify(key, entry) {
			c.l1.Delete(key)
		} else {
			entry.AccessedAt = now
			entry.AccessCount++
			return entry.Value, true
		}
	}
	if c.l2 == nil {
		return nil, false
	}
	entry, ok := c.l2.Get(key)
	if !ok {
		return nil, false
	}
	if !c.verify(key, entry) {
		c.l2.Delete(key)
		return nil, false
	}
	entry.AccessedAt = now
	entry.AccessCount++
	c.l1.Set(key, entry)
	return entry.Value, true
}

// Set writes value to both configured tiers with the given TTL (zero
// means no expiry).
func (c *SignedCache) Set(key string, value []byte, ttl time.Duration) {
	now := time.Now()
	entry := &Entry{
		Value:      value,
		CreatedAt:  now,
		AccessedAt: now,
		Signature:  c.sign(key, value),
	}
	if ttl > 0 {
		entry.HasTTL = true
		entry.Expiration = now.Add(ttl)
	}
	c.l1.Set(key, entry)
	if c.l2 != nil {
		c.l2.Set(key, entry)
	}
}

// Delete removes key from both tiers.
func (c *SignedCache) Delete(key string) {
	c.l1.Delete(key)
	if c.l2 != nil {
		c.l2.Delete(key)
	}
}

// Len reports the L1 tier's current size.
func (c *SignedCache) Len() int {
	return c.l1.Len()
}
