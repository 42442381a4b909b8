package catalog_test

import (
	"testing"

	"github.com/hookline/hookline/catalog"
)

func paymentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"amount":   map[string]any{"type": "number"},
			"currency": map[string]any{"type": "string", "minLength": float64(3)},
			"captured": map[string]any{"type": "boolean"},
		},
		"required": []any{"amount", "currency"},
	}
}

func TestValidateNilSchemaAcceptsAnything(t *testing.T) {
	v := catalog.NewValidator()

	payloads := []any{
		map[string]any{"free": "form"},
		[]any{1, 2, 3},
		"bare string",
		nil,
	}
	for _, p := range payloads {
		if err := v.Validate(nil, p); err != nil {
			t.Fatalf("nil schema rejected %v: %v", p, err)
		}
	}
}

func TestValidatePayloads(t *testing.T) {
	v := catalog.NewValidator()
	schema := paymentSchema()

	tests := []struct {
		name    string
		data    any
		wantErr bool
	}{
		{
			name: "conforming payload",
			data: map[string]any{"amount": 49.99, "currency": "USD", "captured": true},
		},
		{
			name: "optional field omitted",
			data: map[string]any{"amount": 10.0, "currency": "EUR"},
		},
		{
			name:    "missing required field",
			data:    map[string]any{"amount": 10.0},
			wantErr: true,
		},
		{
			name:    "wrong type",
			data:    map[string]any{"amount": "ten", "currency": "USD"},
			wantErr: true,
		},
		{
			name:    "string constraint violated",
			data:    map[string]any{"amount": 10.0, "currency": "X"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(schema, tt.data)
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateUncompilableSchema(t *testing.T) {
	v := catalog.NewValidator()

	schema := map[string]any{"type": 42}
	if err := v.Validate(schema, map[string]any{}); err == nil {
		t.Fatal("expected compile error for malformed schema")
	}
}

func TestValidateReusesCompiledSchema(t *testing.T) {
	v := catalog.NewValidator()
	schema := paymentSchema()
	data := map[string]any{"amount": 1.0, "currency": "GBP"}

	for i := 0; i < 3; i++ {
		if err := v.Validate(schema, data); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}
