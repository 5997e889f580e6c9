// Package store provides the ephemeral key/value store backing presence and
// voice state. Every record carries a TTL so that state left behind by a
// vanished client heals itself.
//
// Callers must treat every error as "store unavailable" and degrade to their
// defined empty result; nothing in the live layer may fail because this
// store is down.
package store

import (
	"context"
	"strconv"
	"time"
)

// Result is the outcome of one key lookup in a bulk query.
type Result struct {
	Value string
	Ok    bool
}

type Store interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Get reports ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// RefreshTTL extends a key's expiry without touching its value. Absent
	// keys are left absent.
	RefreshTTL(ctx context.Context, key string, ttl time.Duration) error

	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	RemoveFromSet(ctx context.Context, key, member string) error
	Members(ctx context.Context, key string) ([]string, error)

	// BulkGet and BulkRefresh batch their per-key counterparts into one
	// round-trip. Results are positional with the input keys.
	BulkGet(ctx context.Context, keys []string) ([]Result, error)
	BulkRefresh(ctx context.Context, keys []string, ttl time.Duration) error

	Close() error
}

// Key helpers. All keys are prefixed with the deployment's server domain so
// that independent deployments sharing one Redis never collide.

func PresenceKey(domain string, userId int64) string {
	return domain + ":presence:" + strconv.FormatInt(userId, 10)
}

func VoiceUserKey(domain string, userId int64) string {
	return domain + ":voice:user:" + strconv.FormatInt(userId, 10)
}

func VoiceRoomKey(domain, roomKey string) string {
	return domain + ":voice:" + roomKey + ":users"
}
