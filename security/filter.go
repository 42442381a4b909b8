// Package security gates inbound webhook requests: block-lists, per-provider
// IP allow-lists and user-agent checks, fixed-window rate limiting and a
// burst-anomaly backstop.
//
// Checks never return errors for malformed input; a source IP that does not
// parse is simply not allowed. Counter state lives in a shared kv.Store and
// is only ever mutated through atomic single operations.
package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hookline/hookline/kv"
)

// KV key prefixes for filter state.
const (
	keyBlock = "hookline:sec:block:" // + ip
	keyRate  = "hookline:sec:rate:"  // + provider + ":" + ip
	keyBurst = "hookline:sec:burst:" // + provider + ":" + ip
)

// Config configures the security filter.
type Config struct {
	// Providers maps provider names to their security policies.
	Providers map[string]ProviderPolicy

	// DefaultRateLimitWindow is the fixed window used when a provider does
	// not configure one.
	DefaultRateLimitWindow time.Duration

	// DefaultRateLimitMax is the per-window ceiling used when a provider
	// does not configure one.
	DefaultRateLimitMax int

	// BurstWindow is the tracked interval for the suspicious-activity
	// heuristic.
	BurstWindow time.Duration

	// BurstMax is the number of requests within BurstWindow from one source
	// that trips the heuristic.
	BurstMax int
}

// DefaultConfig returns a Config with sensible defaults and no provider
// restrictions.
func DefaultConfig() Config {
	return Config{
		DefaultRateLimitWindow: 60 * time.Second,
		DefaultRateLimitMax:    120,
		BurstWindow:            10 * time.Second,
		BurstMax:               10,
	}
}

// Verdict is the outcome of Check.
type Verdict struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Reason explains a rejection. Empty when allowed.
	Reason string `json:"reason,omitempty"`
}

// RateLimit is the outcome of CheckRateLimit.
type RateLimit struct {
	// Limited reports whether the ceiling has been exceeded in this window.
	Limited bool `json:"limited"`

	// Current is the request count within the current window, including
	// this request.
	Current int64 `json:"current"`

	// Limit is the per-window ceiling.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the window.
	Remaining int64 `json:"remaining"`

	// ResetAt is when the current window expires.
	ResetAt time.Time `json:"reset_at"`
}

// BlockEntry is a manually added, TTL-bound deny-list entry.
type BlockEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Filter is the per-request security gate.
type Filter struct {
	config   Config
	policies map[string]*compiledPolicy
	fallback *compiledPolicy
	kv       kv.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewFilter creates a security filter backed by the given KV store.
func NewFilter(store kv.Store, cfg Config, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultRateLimitWindow <= 0 {
		cfg.DefaultRateLimitWindow = 60 * time.Second
	}
	if cfg.DefaultRateLimitMax <= 0 {
		cfg.DefaultRateLimitMax = 120
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = 10 * time.Second
	}
	if cfg.BurstMax <= 0 {
		cfg.BurstMax = 10
	}

	f := &Filter{
		config:   cfg,
		policies: make(map[string]*compiledPolicy, len(cfg.Providers)),
		fallback: compilePolicy(ProviderPolicy{}, cfg.DefaultRateLimitWindow, cfg.DefaultRateLimitMax),
		kv:       store,
		logger:   logger,
		now:      time.Now,
	}
	for name, policy := range cfg.Providers {
		f.policies[name] = compilePolicy(policy, cfg.DefaultRateLimitWindow, cfg.DefaultRateLimitMax)
	}
	return f
}

// SetClock overrides the filter's clock. Test use only.
func (f *Filter) SetClock(now func() time.Time) { f.now = now }

// policyFor returns the compiled policy for a provider, falling back to the
// unrestricted default.
func (f *Filter) policyFor(provider string) *compiledPolicy {
	if p, ok := f.policies[provider]; ok {
		return p
	}
	return f.fallback
}

// Check runs the block-list, IP allow-list, user-agent and burst checks for
// one inbound request. It increments the burst counter as a side effect;
// everything else is read-only.
func (f *Filter) Check(ctx context.Context, sourceIP, userAgent, provider string) Verdict {
	// Block-list entries always short-circuit, regardless of other checks.
	if blocked, reason := f.isBlocked(ctx, sourceIP); blocked {
		return Verdict{Reason: "ip blocked: " + reason}
	}

	ip := parseIP(sourceIP)
	if ip == nil {
		return Verdict{Reason: "malformed source ip"}
	}

	policy := f.policyFor(provider)

	if !policy.allowsIP(ip) {
		return Verdict{Reason: "ip not in provider allow-list"}
	}

	if !policy.allowsUserAgent(userAgent) {
		return Verdict{Reason: "user-agent not recognized for provider"}
	}

	// Burst backstop: a cheap anomaly check on top of the rate limiter.
	count, err := f.kv.IncrWithTTL(ctx, keyBurst+provider+":"+sourceIP, f.config.BurstWindow)
	if err != nil {
		f.logger.ErrorContext(ctx, "burst counter unavailable", "error", err)
	} else if count > int64(f.config.BurstMax) {
		return Verdict{Reason: "suspicious request burst"}
	}

	return Verdict{Allowed: true}
}

// CheckRateLimit increments the fixed-window counter for (provider, sourceIP)
// and reports whether the ceiling has been exceeded. Exceeding the ceiling
// flags Limited but does not block future windows.
func (f *Filter) CheckRateLimit(ctx context.Context, sourceIP, provider string) (RateLimit, error) {
	policy := f.policyFor(provider)
	key := keyRate + provider + ":" + sourceIP

	current, err := f.kv.IncrWithTTL(ctx, key, policy.window)
	if err != nil {
		return RateLimit{}, err
	}

	resetAt := f.now().Add(policy.window)
	if ttl, ttlErr := f.kv.TTL(ctx, key); ttlErr == nil && ttl > 0 {
		resetAt = f.now().Add(ttl)
	}

	remaining := int64(policy.limit) - current
	if remaining < 0 {
		remaining = 0
	}

	return RateLimit{
		Limited:   current > int64(policy.limit),
		Current:   current,
		Limit:     policy.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// BlockIP adds a TTL-bound deny-list entry for an IP.
func (f *Filter) BlockIP(ctx context.Context, ip, reason string, ttl time.Duration) error {
	entry := BlockEntry{
		IP:        ip,
		Reason:    reason,
		BlockedAt: f.now().UTC(),
		ExpiresAt: f.now().UTC().Add(ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return f.kv.Set(ctx, keyBlock+ip, raw, ttl)
}

// UnblockIP removes a deny-list entry.
func (f *Filter) UnblockIP(ctx context.Context, ip string) error {
	return f.kv.Delete(ctx, keyBlock+ip)
}

// ListBlocks returns all active block entries.
func (f *Filter) ListBlocks(ctx context.Context) ([]BlockEntry, error) {
	keys, err := f.kv.Keys(ctx, keyBlock)
	if err != nil {
		return nil, err
	}

	entries := make([]BlockEntry, 0, len(keys))
	for _, key := range keys {
		raw, getErr := f.kv.Get(ctx, key)
		if getErr != nil {
			continue // expired between Keys and Get
		}
		var entry BlockEntry
		if json.Unmarshal(raw, &entry) != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// isBlocked checks the deny list for an IP.
func (f *Filter) isBlocked(ctx context.Context, ip string) (bool, string) {
	raw, err := f.kv.Get(ctx, keyBlock+ip)
	if err != nil {
		return false, ""
	}
	var entry BlockEntry
	if json.Unmarshal(raw, &entry) != nil {
		return true, "unspecified"
	}
	return true, entry.Reason
}

// parseIP parses an IPv4, IPv6 or IPv4-mapped IPv6 address.
// Returns nil for anything that does not parse.
func parseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	// Normalize IPv4-mapped IPv6 (::ffff:a.b.c.d) so IPv4 CIDRs match.
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// windowLabel formats a window duration for report output.
func windowLabel(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10) + "s"
}
