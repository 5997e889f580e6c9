// Package presence tracks user reachability as TTL-bounded status records.
// A record that stops being refreshed simply expires, so presence heals
// itself after an ungraceful client termination; offline is the absence of
// a record, never a stored value.
package presence

import (
	"context"
	"time"

	"github.com/chisme-chat/chisme/store"
	"github.com/chisme-chat/chisme/types"
	"github.com/hashicorp/go-hclog"
)

type Service struct {
	store  store.Store
	domain string
	ttl    time.Duration
	logger hclog.Logger
}

// NewService wires the presence service to its ephemeral store. A nil store
// disables presence: writes become no-ops and every query returns offline.
func NewService(st store.Store, domain string, ttl time.Duration, logger hclog.Logger) *Service {
	return &Service{store: st, domain: domain, ttl: ttl, logger: logger}
}

// SetStatus stores a status with the service TTL. Statuses outside
// online/away/dnd are silently ignored; offline in particular is only ever
// produced by deletion or expiry.
func (s *Service) SetStatus(ctx context.Context, userId int64, status types.Status) {
	if !status.Storable() {
		s.logger.Warn("invalid presence status, ignoring", "status", status, "user_id", userId)
		return
	}
	if s.store == nil {
		return
	}
	err := s.store.SetWithTTL(ctx, store.PresenceKey(s.domain, userId), string(status), s.ttl)
	if err != nil {
		s.logger.Warn("presence set failed", "user_id", userId, "error", err)
	}
}

// SetOffline deletes the record immediately. This is the clean-disconnect
// path; the TTL covers everything else.
func (s *Service) SetOffline(ctx context.Context, userId int64) {
	if s.store == nil {
		return
	}
	err := s.store.Delete(ctx, store.PresenceKey(s.domain, userId))
	if err != nil {
		s.logger.Warn("presence delete failed", "user_id", userId, "error", err)
	}
}

// Heartbeat extends the record's TTL without changing the stored status.
func (s *Service) Heartbeat(ctx context.Context, userId int64) {
	if s.store == nil {
		return
	}
	err := s.store.RefreshTTL(ctx, store.PresenceKey(s.domain, userId), s.ttl)
	if err != nil {
		s.logger.Warn("presence heartbeat failed", "user_id", userId, "error", err)
	}
}

// GetStatus returns the stored status, or offline when the record is absent
// or the store is unreachable.
func (s *Service) GetStatus(ctx context.Context, userId int64) types.Status {
	if s.store == nil {
		return types.StatusOffline
	}
	value, ok, err := s.store.Get(ctx, store.PresenceKey(s.domain, userId))
	if err != nil {
		s.logger.Warn("presence get failed", "user_id", userId, "error", err)
		return types.StatusOffline
	}
	if !ok {
		return types.StatusOffline
	}
	return types.Status(value)
}

// GetBulkStatus batches lookups into one round-trip. Empty input returns an
// empty map without touching the store; any unknown id maps to offline.
func (s *Service) GetBulkStatus(ctx context.Context, userIds []int64) map[int64]types.Status {
	statuses := make(map[int64]types.Status, len(userIds))
	if len(userIds) == 0 {
		return statuses
	}
	for _, id := range userIds {
		statuses[id] = types.StatusOffline
	}
	if s.store == nil {
		return statuses
	}
	keys := make([]string, len(userIds))
	for i, id := range userIds {
		keys[i] = store.PresenceKey(s.domain, id)
	}
	results, err := s.store.BulkGet(ctx, keys)
	if err != nil {
		s.logger.Warn("presence bulk get failed", "error", err)
		return statuses
	}
	for i, res := range results {
		if res.Ok {
			statuses[userIds[i]] = types.Status(res.Value)
		}
	}
	return statuses
}
