// Package voice tracks who is in which voice room, independently of text
// channel membership. The in-process maps are authoritative for snapshot and
// relay gating; each participant is mirrored into the ephemeral store with a
// TTL so that a participant whose client vanished without notice is swept
// out once the mirror expires.
package voice

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/chisme-chat/chisme/store"
	"github.com/chisme-chat/chisme/types"
	"github.com/hashicorp/go-hclog"
)

// mirrorState is the JSON blob kept per participant in the store.
type mirrorState struct {
	Room  string `json:"room"`
	Muted bool   `json:"muted"`
	Video bool   `json:"video"`
}

type Registry struct {
	store  store.Store
	domain string
	ttl    time.Duration
	logger hclog.Logger

	// forward room key → user → state, reverse user → room; the reverse
	// index enforces the one-voice-room-per-user invariant
	rooms map[string]map[int64]*types.VoiceParticipant
	users map[int64]types.Room

	sync.RWMutex
}

func NewRegistry(st store.Store, domain string, ttl time.Duration, logger hclog.Logger) *Registry {
	return &Registry{
		store:  st,
		domain: domain,
		ttl:    ttl,
		logger: logger,
		rooms:  make(map[string]map[int64]*types.VoiceParticipant),
		users:  make(map[int64]types.Room),
	}
}

// Join inserts or overwrites the participant record; re-joining with new
// flags just overwrites. A user may be in one voice room at a time: joining
// while in another room leaves that room first, and the vacated room is
// returned so the caller can announce the leave there.
func (r *Registry) Join(ctx context.Context, room types.Room, user types.User, muted, video bool) (left *types.Room) {
	r.Lock()
	if prev, ok := r.users[user.Id]; ok && prev.Key() != room.Key() {
		r.removeLocked(prev, user.Id)
		left = &prev
	}
	if r.rooms[room.Key()] == nil {
		r.rooms[room.Key()] = make(map[int64]*types.VoiceParticipant)
	}
	r.rooms[room.Key()][user.Id] = &types.VoiceParticipant{
		UserId:   user.Id,
		Username: user.Username,
		Muted:    muted,
		Video:    video,
	}
	r.users[user.Id] = room
	r.Unlock()

	if left != nil {
		r.unmirror(ctx, *left, user.Id)
	}
	r.mirror(ctx, room, user.Id, muted, video)
	return left
}

// Leave removes the record and reports whether it existed, so callers know
// whether a leave broadcast is warranted.
func (r *Registry) Leave(ctx context.Context, room types.Room, userId int64) bool {
	r.Lock()
	_, ok := r.rooms[room.Key()][userId]
	if ok {
		r.removeLocked(room, userId)
	}
	r.Unlock()
	if ok {
		r.unmirror(ctx, room, userId)
	}
	return ok
}

// UpdateState mutates the flags of a current participant. A stale update
// arriving after a leave is a silent no-op; network reordering makes that a
// normal occurrence, not an error.
func (r *Registry) UpdateState(ctx context.Context, room types.Room, userId int64, muted, video, speaking bool) (types.VoiceParticipant, bool) {
	r.Lock()
	p, ok := r.rooms[room.Key()][userId]
	if !ok {
		r.Unlock()
		return types.VoiceParticipant{}, false
	}
	p.Muted = muted
	p.Video = video
	p.Speaking = speaking
	state := *p
	r.Unlock()

	r.mirror(ctx, room, userId, muted, video)
	return state, true
}

func (r *Registry) IsParticipant(room types.Room, userId int64) bool {
	r.RLock()
	defer r.RUnlock()
	_, ok := r.rooms[room.Key()][userId]
	return ok
}

// Snapshot returns the current participants of a room, used to populate a
// just-connected client's view without waiting for future join events.
func (r *Registry) Snapshot(room types.Room) []types.VoiceParticipant {
	r.RLock()
	defer r.RUnlock()
	participants := make([]types.VoiceParticipant, 0, len(r.rooms[room.Key()]))
	for _, p := range r.rooms[room.Key()] {
		participants = append(participants, *p)
	}
	return participants
}

// Heartbeat extends the store mirror's TTL for a participant and its room
// set. Called from the connection loop, so expiry only happens on genuine
// silence.
func (r *Registry) Heartbeat(ctx context.Context, room types.Room, userId int64) {
	if r.store == nil || !r.IsParticipant(room, userId) {
		return
	}
	keys := []string{
		store.VoiceUserKey(r.domain, userId),
		store.VoiceRoomKey(r.domain, room.Key()),
	}
	if err := r.store.BulkRefresh(ctx, keys, r.ttl); err != nil {
		r.logger.Warn("voice heartbeat failed", "user_id", userId, "error", err)
	}
}

// Expired is one participant removed by Sweep.
type Expired struct {
	Room   types.Room
	UserId int64
}

// Sweep removes participants whose store mirror has expired, meaning their
// client vanished without a disconnect, and returns them so the caller can
// broadcast the leave. With no store configured there is nothing to compare
// against and the sweep does nothing; a store error likewise does not evict
// anyone, since unreachable is not the same as expired.
func (r *Registry) Sweep(ctx context.Context) []Expired {
	if r.store == nil {
		return nil
	}
	r.RLock()
	candidates := make([]Expired, 0, len(r.users))
	for userId, room := range r.users {
		candidates = append(candidates, Expired{Room: room, UserId: userId})
	}
	r.RUnlock()
	if len(candidates) == 0 {
		return nil
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = store.VoiceUserKey(r.domain, c.UserId)
	}
	results, err := r.store.BulkGet(ctx, keys)
	if err != nil {
		r.logger.Warn("voice sweep skipped, store unreachable", "error", err)
		return nil
	}

	var expired []Expired
	for i, res := range results {
		if res.Ok {
			continue
		}
		c := candidates[i]
		if r.Leave(ctx, c.Room, c.UserId) {
			r.logger.Info("voice participant expired", "user_id", c.UserId, "room", c.Room.Key())
			expired = append(expired, c)
		}
	}
	return expired
}

// removeLocked drops a participant from both indexes. Caller holds the lock.
func (r *Registry) removeLocked(room types.Room, userId int64) {
	delete(r.rooms[room.Key()], userId)
	if len(r.rooms[room.Key()]) == 0 {
		delete(r.rooms, room.Key())
	}
	delete(r.users, userId)
}

func (r *Registry) mirror(ctx context.Context, room types.Room, userId int64, muted, video bool) {
	if r.store == nil {
		return
	}
	blob, err := json.Marshal(mirrorState{Room: room.Key(), Muted: muted, Video: video})
	if err != nil {
		return
	}
	if err := r.store.AddToSet(ctx, store.VoiceRoomKey(r.domain, room.Key()), formatId(userId), r.ttl); err != nil {
		r.logger.Warn("voice mirror add failed", "user_id", userId, "error", err)
	}
	if err := r.store.SetWithTTL(ctx, store.VoiceUserKey(r.domain, userId), string(blob), r.ttl); err != nil {
		r.logger.Warn("voice mirror set failed", "user_id", userId, "error", err)
	}
}

func formatId(userId int64) string {
	return strconv.FormatInt(userId, 10)
}

func (r *Registry) unmirror(ctx context.Context, room types.Room, userId int64) {
	if r.store == nil {
		return
	}
	if err := r.store.RemoveFromSet(ctx, store.VoiceRoomKey(r.domain, room.Key()), formatId(userId)); err != nil {
		r.logger.Warn("voice mirror remove failed", "user_id", userId, "error", err)
	}
	if err := r.store.Delete(ctx, store.VoiceUserKey(r.domain, userId)); err != nil {
		r.logger.Warn("voice mirror delete failed", "user_id", userId, "error", err)
	}
}
