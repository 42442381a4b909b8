package security

import (
	"net"
	"regexp"
	"time"
)

// ProviderPolicy holds the per-provider security configuration.
// Zero-value fields mean "no restriction" for that check.
type ProviderPolicy struct {
	// AllowedCIDRs is the source IP allow-list. Empty means all IPs pass.
	AllowedCIDRs []string

	// UserAgentPatterns are regular expressions the User-Agent must match
	// (any one of them). Empty means no restriction.
	UserAgentPatterns []string

	// RateLimitWindow is the fixed rate-limit window. Zero uses the default.
	RateLimitWindow time.Duration

	// RateLimitMax is the request ceiling per window. Zero uses the default.
	RateLimitMax int
}

// compiledPolicy is a ProviderPolicy with parsed CIDRs and compiled regexps.
type compiledPolicy struct {
	networks []*net.IPNet
	agents   []*regexp.Regexp
	window   time.Duration
	limit    int
}

// compilePolicy parses CIDRs and compiles UA patterns, skipping entries that
// do not parse. Malformed configuration must not take the filter down.
func compilePolicy(p ProviderPolicy, defaultWindow time.Duration, defaultMax int) *compiledPolicy {
	cp := &compiledPolicy{
		window: p.RateLimitWindow,
		limit:  p.RateLimitMax,
	}
	if cp.window <= 0 {
		cp.window = defaultWindow
	}
	if cp.limit <= 0 {
		cp.limit = defaultMax
	}
	for _, cidr := range p.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		cp.networks = append(cp.networks, network)
	}
	for _, pattern := range p.UserAgentPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		cp.agents = append(cp.agents, re)
	}
	return cp
}

// allowsIP reports whether the IP passes the allow-list.
// An empty allow-list passes everything.
func (cp *compiledPolicy) allowsIP(ip net.IP) bool {
	if len(cp.networks) == 0 {
		return true
	}
	for _, network := range cp.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// allowsUserAgent reports whether the User-Agent matches any configured
// pattern. An empty pattern set passes everything.
func (cp *compiledPolicy) allowsUserAgent(ua string) bool {
	if len(cp.agents) == 0 {
		return true
	}
	for _, re := range cp.agents {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}
