package security

import (
	"context"
	"strings"
	"time"
)

// Report is an operator-facing snapshot of the filter's state.
type Report struct {
	// GeneratedAt is when the report was produced.
	GeneratedAt time.Time `json:"generated_at"`

	// ActiveBlocks are the live deny-list entries.
	ActiveBlocks []BlockEntry `json:"active_blocks"`

	// Providers summarizes the configured per-provider policies.
	Providers map[string]PolicySummary `json:"providers"`

	// TrackedSources is the number of sources with live rate-limit counters.
	TrackedSources int `json:"tracked_sources"`

	// BurstSources is the number of sources with live burst counters.
	BurstSources int `json:"burst_sources"`
}

// PolicySummary describes one provider's effective policy.
type PolicySummary struct {
	AllowedCIDRs    int    `json:"allowed_cidrs"`
	UserAgentChecks int    `json:"user_agent_checks"`
	RateLimitWindow string `json:"rate_limit_window"`
	RateLimitMax    int    `json:"rate_limit_max"`
}

// Report produces a security report from live KV state.
func (f *Filter) Report(ctx context.Context) (*Report, error) {
	blocks, err := f.ListBlocks(ctx)
	if err != nil {
		return nil, err
	}

	rateKeys, err := f.kv.Keys(ctx, keyRate)
	if err != nil {
		return nil, err
	}
	burstKeys, err := f.kv.Keys(ctx, keyBurst)
	if err != nil {
		return nil, err
	}

	providers := make(map[string]PolicySummary, len(f.policies))
	for name, p := range f.policies {
		providers[name] = PolicySummary{
			AllowedCIDRs:    len(p.networks),
			UserAgentChecks: len(p.agents),
			RateLimitWindow: windowLabel(p.window),
			RateLimitMax:    p.limit,
		}
	}

	return &Report{
		GeneratedAt:    f.now().UTC(),
		ActiveBlocks:   blocks,
		Providers:      providers,
		TrackedSources: countDistinctSources(rateKeys, keyRate),
		BurstSources:   countDistinctSources(burstKeys, keyBurst),
	}, nil
}

// countDistinctSources counts unique "provider:ip" suffixes among keys.
func countDistinctSources(keys []string, prefix string) int {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[strings.TrimPrefix(k, prefix)] = struct{}{}
	}
	return len(seen)
}
