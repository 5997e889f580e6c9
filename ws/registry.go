package ws

import (
	"encoding/json"
	"sync"

	"github.com/chisme-chat/chisme/types"
	"github.com/hashicorp/go-hclog"
)

// Registry maps each room to its attached clients, keyed by user identity.
// At most one attachment exists per (room, user) pair; a new attachment
// supersedes the old one.
//
// Delivery is best-effort and unordered across producers: no sequence
// numbers are attached here, and a failed send to one peer never affects
// delivery to the others.
type Registry struct {
	rooms  map[string]*roomEntry
	logger hclog.Logger

	sync.RWMutex
}

type roomEntry struct {
	room    types.Room
	clients map[int64]*Client
}

func NewRegistry(logger hclog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*roomEntry),
		logger: logger,
	}
}

// Attach records the mapping and returns the superseded client, if any, so
// the caller can close it with a proper code.
func (r *Registry) Attach(room types.Room, client *Client) (prev *Client) {
	r.Lock()
	defer r.Unlock()
	entry := r.rooms[room.Key()]
	if entry == nil {
		entry = &roomEntry{room: room, clients: make(map[int64]*Client)}
		r.rooms[room.Key()] = entry
	}
	prev = entry.clients[client.User.Id]
	entry.clients[client.User.Id] = client
	r.logger.Debug("attached", "room", room.Key(), "user_id", client.User.Id, "conn", client.Id)
	return prev
}

// Detach removes the mapping; idempotent. Only the given client is removed:
// if a replacement attachment has already superseded it, the newer one stays.
func (r *Registry) Detach(room types.Room, client *Client) {
	r.Lock()
	defer r.Unlock()
	entry := r.rooms[room.Key()]
	if entry == nil || entry.clients[client.User.Id] != client {
		return
	}
	delete(entry.clients, client.User.Id)
	if len(entry.clients) == 0 {
		delete(r.rooms, room.Key())
	}
	r.logger.Debug("detached", "room", room.Key(), "user_id", client.User.Id, "conn", client.Id)
}

// Broadcast serializes the event once and attempts delivery to every
// attached client in the room, excluding excludeUser if non-zero. Sends run
// concurrently; any client whose send fails is collected and detached after
// the sweep completes, so one dead peer never aborts the fan-out.
func (r *Registry) Broadcast(room types.Room, event interface{}, excludeUser int64) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("could not marshal event", "error", err)
		return
	}

	r.RLock()
	entry := r.rooms[room.Key()]
	targets := make([]*Client, 0)
	if entry != nil {
		for userId, client := range entry.clients {
			if excludeUser != 0 && userId == excludeUser {
				continue
			}
			targets = append(targets, client)
		}
	}
	r.RUnlock()

	var wg sync.WaitGroup
	var deadMu sync.Mutex
	dead := make([]*Client, 0)
	for _, client := range targets {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.Send(data); err != nil {
				deadMu.Lock()
				dead = append(dead, c)
				deadMu.Unlock()
			}
		}(client)
	}
	wg.Wait()

	for _, c := range dead {
		r.logger.Info("dropping dead connection after broadcast", "room", room.Key(), "user_id", c.User.Id)
		r.Detach(room, c)
	}
}

// SendToUser delivers one event to one attached user. On failure the dead
// connection is detached and false is returned, so the caller can fall back
// to another path (e.g. a push notification). A user who simply is not
// attached also yields false, without side effects.
func (r *Registry) SendToUser(room types.Room, userId int64, event interface{}) bool {
	r.RLock()
	entry := r.rooms[room.Key()]
	var client *Client
	if entry != nil {
		client = entry.clients[userId]
	}
	r.RUnlock()
	if client == nil {
		return false
	}
	if err := client.SendJSON(event); err != nil {
		r.logger.Info("dropping dead connection after targeted send", "room", room.Key(), "user_id", userId)
		r.Detach(room, client)
		return false
	}
	return true
}

// RoomMembers returns a snapshot of the user ids currently attached to a
// room, used to decide who is already reachable live.
func (r *Registry) RoomMembers(room types.Room) []int64 {
	r.RLock()
	defer r.RUnlock()
	entry := r.rooms[room.Key()]
	if entry == nil {
		return nil
	}
	members := make([]int64, 0, len(entry.clients))
	for userId := range entry.clients {
		members = append(members, userId)
	}
	return members
}

// Rooms returns a snapshot of all rooms with at least one attachment.
func (r *Registry) Rooms() []types.Room {
	r.RLock()
	defer r.RUnlock()
	rooms := make([]types.Room, 0, len(r.rooms))
	for _, entry := range r.rooms {
		rooms = append(rooms, entry.room)
	}
	return rooms
}

// Count returns the number of attachments in a room.
func (r *Registry) Count(room types.Room) int {
	r.RLock()
	defer r.RUnlock()
	entry := r.rooms[room.Key()]
	if entry == nil {
		return 0
	}
	return len(entry.clients)
}
