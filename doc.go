// Package hookline provides a webhook ingestion and reliable-delivery
// pipeline for Go.
//
// Hookline is a library, not a service. Import it into your application to
// get signed inbound webhook ingestion from third-party providers, tenant
// webhook registrations, guaranteed outbound delivery with per-attempt HMAC
// signatures, retry with a fixed backoff schedule, and automatic pausing of
// chronically failing destinations.
//
// Key features:
//   - Inbound gateway with per-provider signature verification strategies
//   - Security filtering: IP allow-lists, user-agent checks, TTL block-lists,
//     fixed-window rate limiting and a burst-anomaly backstop
//   - Durable at-least-once event log with forward-only status transitions
//   - Bounded delivery worker pool with job de-duplication by event ID
//   - Retry backoff schedule and circuit-breaker pausing of dead destinations
//   - Composable store pattern with multiple backends (Postgres, SQLite,
//     MongoDB, Redis, Bun, Memory)
//
// Quick start:
//
//	hl, err := hookline.New(
//	    hookline.WithStore(memoryStore),
//	    hookline.WithKV(kvStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hl.Start(ctx)
//
//	hl.RegisterEventType(ctx, catalog.WebhookDefinition{Name: "invoice.created"})
//	hl.Trigger(ctx, hookline.TriggerInput{
//	    TenantID:  "tenant_123",
//	    EventType: "invoice.created",
//	    Data:      map[string]any{"invoice_id": "inv_01h..."},
//	})
package hookline
