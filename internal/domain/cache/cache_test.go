package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, err := Encode([]byte(`{"a":1}`), now, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	e, err := Decode("k", TierWarm, raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Value) != `{"a":1}` || e.Tier != TierWarm || !e.WriteTimestamp.Equal(now) {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Expired(now.Add(59 * time.Second)) {
		t.Fatal("expired too early")
	}
	if !e.Expired(now.Add(time.Minute)) {
		t.Fatal("expected expiry at ttl")
	}
}

func TestEnvelopeWithoutTTL(t *testing.T) {
	raw, err := Encode([]byte("x"), time.Now(), 0)
	if err != nil {
		t.Fatal(err)
	}
	e, err := Decode("k", TierDurable, raw)
	if err != nil {
		t.Fatal(err)
	}
	if e.ExpiresAt != nil || e.Expired(time.Now().Add(100*365*24*time.Hour)) {
		t.Fatal("durable entries never expire")
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode("k", TierHot, []byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEncodeUntilKeepsExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Second)
	raw, err := EncodeUntil([]byte("x"), now, &until)
	if err != nil {
		t.Fatal(err)
	}
	e, err := Decode("k", TierHot, raw)
	if err != nil {
		t.Fatal(err)
	}
	if e.ExpiresAt == nil || !e.ExpiresAt.Equal(until) {
		t.Fatalf("expected expiry %v, got %v", until, e.ExpiresAt)
	}
}

func TestEnvelopeStoresJSONInline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		value  string
		inline bool
	}{
		{"compact object", `{"stage":"assessing"}`, true},
		{"spaced object", `{"stage": "assessing"}`, false},
		{"plain bytes", "v1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode([]byte(tt.value), now, 0)
			if err != nil {
				t.Fatal(err)
			}
			var env map[string]json.RawMessage
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatal(err)
			}
			if _, ok := env["j"]; ok != tt.inline {
				t.Fatalf("inline = %v, want %v (%s)", ok, tt.inline, raw)
			}
			e, err := Decode("k", TierDurable, raw)
			if err != nil {
				t.Fatal(err)
			}
			if string(e.Value) != tt.value {
				t.Fatalf("round trip changed value: %q", e.Value)
			}
		})
	}
}
