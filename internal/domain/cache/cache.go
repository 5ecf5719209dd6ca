// Package cache defines cache tiers and the envelope every tier stores, so
// expiry is enforced the same way regardless of backend.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Tier identifies a level of the cache hierarchy.
type Tier string

const (
	TierHot     Tier = "hot"
	TierWarm    Tier = "warm"
	TierDurable Tier = "durable"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierHot || t == TierWarm || t == TierDurable
}

// Hint tells Put which tiers should receive a copy beyond Durable.
// TierHot populates Hot and Warm, TierWarm populates Warm only and
// TierDurable writes Durable alone.
type Hint = Tier

// Entry is a value read from the hierarchy together with where it came from.
type Entry struct {
	Key            string     `json:"key"`
	Value          []byte     `json:"value"`
	Tier           Tier       `json:"tier"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	WriteTimestamp time.Time  `json:"write_timestamp"`
}

// Expired reports whether the entry has passed its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// envelope stores compact JSON values inline under "j" so durable rows stay
// queryable; any other value is carried as bytes under "v".
type envelope struct {
	V  []byte          `json:"v,omitempty"`
	J  json.RawMessage `json:"j,omitempty"`
	W  time.Time       `json:"w"`
	Ex *time.Time      `json:"x,omitempty"`
}

// Encode wraps value with its write timestamp and, when ttl > 0, an expiry.
func Encode(value []byte, written time.Time, ttl time.Duration) ([]byte, error) {
	if ttl <= 0 {
		return EncodeUntil(value, written, nil)
	}
	ex := written.Add(ttl)
	return EncodeUntil(value, written, &ex)
}

// EncodeUntil wraps value with an explicit expiry; nil means no expiry.
func EncodeUntil(value []byte, written time.Time, expires *time.Time) ([]byte, error) {
	env := envelope{W: written.UTC()}
	if isCompactJSON(value) {
		env.J = value
	} else {
		env.V = value
	}
	if expires != nil {
		ex := expires.UTC()
		env.Ex = &ex
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode cache envelope: %w", err)
	}
	return b, nil
}

// Decode unwraps an envelope produced by Encode.
func Decode(key string, tier Tier, raw []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Entry{}, fmt.Errorf("decode cache envelope %s: %w", key, err)
	}
	value := env.V
	if env.J != nil {
		value = []byte(env.J)
	}
	return Entry{
		Key:            key,
		Value:          value,
		Tier:           tier,
		ExpiresAt:      env.Ex,
		WriteTimestamp: env.W,
	}, nil
}

func isCompactJSON(b []byte) bool {
	if len(b) == 0 || !json.Valid(b) {
		return false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return false
	}
	return bytes.Equal(buf.Bytes(), b)
}
