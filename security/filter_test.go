package security_test

import (
	"context"
	"testing"
	"time"

	"github.com/hookline/hookline/kv/memory"
	"github.com/hookline/hookline/security"
)

func ctx() context.Context { return context.Background() }

func newFilter(cfg security.Config) *security.Filter {
	return security.NewFilter(memory.New(), cfg, nil)
}

func TestCheckAllowsByDefault(t *testing.T) {
	f := newFilter(security.DefaultConfig())

	v := f.Check(ctx(), "203.0.113.7", "any-agent/1.0", "zoho")
	if !v.Allowed {
		t.Fatalf("expected allowed, got reason %q", v.Reason)
	}
}

func TestCheckMalformedIP(t *testing.T) {
	f := newFilter(security.DefaultConfig())

	v := f.Check(ctx(), "not-an-ip", "agent", "zoho")
	if v.Allowed {
		t.Fatal("expected malformed IP to be rejected")
	}
}

func TestCheckBlockedIP(t *testing.T) {
	f := newFilter(security.DefaultConfig())

	if err := f.BlockIP(ctx(), "203.0.113.7", "abuse", time.Hour); err != nil {
		t.Fatal(err)
	}

	v := f.Check(ctx(), "203.0.113.7", "agent", "zoho")
	if v.Allowed {
		t.Fatal("expected blocked IP to be rejected")
	}

	if err := f.UnblockIP(ctx(), "203.0.113.7"); err != nil {
		t.Fatal(err)
	}

	v = f.Check(ctx(), "203.0.113.7", "agent", "zoho")
	if !v.Allowed {
		t.Fatalf("expected unblocked IP to pass, got %q", v.Reason)
	}
}

func TestCheckProviderCIDRAllowList(t *testing.T) {
	cfg := security.DefaultConfig()
	cfg.Providers = map[string]security.ProviderPolicy{
		"whatsapp": {
			AllowedCIDRs: []string{"203.0.113.0/24"},
		},
	}
	f := newFilter(cfg)

	if v := f.Check(ctx(), "203.0.113.50", "agent", "whatsapp"); !v.Allowed {
		t.Fatalf("expected in-range IP to pass, got %q", v.Reason)
	}

	if v := f.Check(ctx(), "198.51.100.1", "agent", "whatsapp"); v.Allowed {
		t.Fatal("expected out-of-range IP to be rejected")
	}

	// Other providers are unaffected.
	if v := f.Check(ctx(), "198.51.100.1", "agent", "zoho"); !v.Allowed {
		t.Fatalf("expected unrestricted provider to pass, got %q", v.Reason)
	}
}

func TestCheckUserAgentPattern(t *testing.T) {
	cfg := security.DefaultConfig()
	cfg.Providers = map[string]security.ProviderPolicy{
		"quickbooks": {
			UserAgentPatterns: []string{`^Intuit`},
		},
	}
	f := newFilter(cfg)

	if v := f.Check(ctx(), "203.0.113.7", "Intuit-Notification/2.0", "quickbooks"); !v.Allowed {
		t.Fatalf("expected matching agent to pass, got %q", v.Reason)
	}

	if v := f.Check(ctx(), "203.0.113.7", "curl/8.0", "quickbooks"); v.Allowed {
		t.Fatal("expected non-matching agent to be rejected")
	}
}

func TestCheckBurstBackstop(t *testing.T) {
	cfg := security.DefaultConfig()
	cfg.BurstMax = 3
	cfg.BurstWindow = time.Minute
	f := newFilter(cfg)

	for i := 0; i < 3; i++ {
		if v := f.Check(ctx(), "203.0.113.7", "agent", "zoho"); !v.Allowed {
			t.Fatalf("request %d unexpectedly rejected: %q", i, v.Reason)
		}
	}

	if v := f.Check(ctx(), "203.0.113.7", "agent", "zoho"); v.Allowed {
		t.Fatal("expected burst backstop to trip on the 4th request")
	}
}

func TestCheckRateLimit(t *testing.T) {
	cfg := security.DefaultConfig()
	cfg.DefaultRateLimitMax = 2
	cfg.DefaultRateLimitWindow = time.Minute
	f := newFilter(cfg)

	for i := 0; i < 2; i++ {
		rl, err := f.CheckRateLimit(ctx(), "203.0.113.7", "zoho")
		if err != nil {
			t.Fatal(err)
		}
		if rl.Limited {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}

	rl, err := f.CheckRateLimit(ctx(), "203.0.113.7", "zoho")
	if err != nil {
		t.Fatal(err)
	}
	if !rl.Limited {
		t.Fatal("expected 3rd request to be limited")
	}
	if rl.Remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", rl.Remaining)
	}

	// A different source IP gets its own window.
	rl, err = f.CheckRateLimit(ctx(), "198.51.100.1", "zoho")
	if err != nil {
		t.Fatal(err)
	}
	if rl.Limited {
		t.Fatal("expected independent counter per source IP")
	}
}

func TestCheckRateLimitWindowRollover(t *testing.T) {
	cfg := security.DefaultConfig()
	cfg.DefaultRateLimitMax = 2
	cfg.DefaultRateLimitWindow = time.Minute

	store := memory.New()
	f := security.NewFilter(store, cfg, nil)

	base := time.Now()
	clock := func() time.Time { return base }
	store.SetClock(clock)
	f.SetClock(clock)

	for i := 0; i < 3; i++ {
		if _, err := f.CheckRateLimit(ctx(), "203.0.113.7", "zoho"); err != nil {
			t.Fatal(err)
		}
	}

	rl, err := f.CheckRateLimit(ctx(), "203.0.113.7", "zoho")
	if err != nil {
		t.Fatal(err)
	}
	if !rl.Limited {
		t.Fatal("expected saturated window to be limited")
	}

	// Past the window the counter expires and the first request through
	// starts a fresh window.
	base = base.Add(time.Minute + time.Second)

	rl, err = f.CheckRateLimit(ctx(), "203.0.113.7", "zoho")
	if err != nil {
		t.Fatal(err)
	}
	if rl.Limited {
		t.Fatal("expected fresh window after rollover")
	}
	if rl.Current != 1 {
		t.Fatalf("expected count 1 in fresh window, got %d", rl.Current)
	}
	if rl.Remaining != 1 {
		t.Fatalf("expected 1 remaining, got %d", rl.Remaining)
	}
}

func TestListBlocks(t *testing.T) {
	f := newFilter(security.DefaultConfig())

	_ = f.BlockIP(ctx(), "203.0.113.1", "abuse", time.Hour)
	_ = f.BlockIP(ctx(), "203.0.113.2", "scanning", time.Hour)

	blocks, err := f.ListBlocks(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
}
