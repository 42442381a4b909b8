package gateway

import "encoding/json"

// ExtractEventType pulls the event type name out of a provider payload.
// Providers disagree on where the type lives; unknown shapes fall back to
// "<provider>.event" so the event is still routable.
func ExtractEventType(provider string, body []byte) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return provider + ".event"
	}

	switch provider {
	case "whatsapp":
		// Meta wraps everything in {"object": "...", "entry": [...]}.
		if s, ok := stringField(doc, "object"); ok {
			return provider + "." + s
		}
	case "quickbooks":
		// Intuit sends {"eventNotifications": [...]}; the notification
		// granularity lives deeper, so classify at the envelope level.
		if _, ok := doc["eventNotifications"]; ok {
			return provider + ".notification"
		}
	}

	for _, key := range [...]string{"type", "event", "event_type", "eventType"} {
		if s, ok := stringField(doc, key); ok {
			return s
		}
	}
	return provider + ".event"
}

func stringField(doc map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := doc[key]
	if !ok {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) != nil || s == "" {
		return "", false
	}
	return s, true
}
