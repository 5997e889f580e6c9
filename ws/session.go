package ws

import (
	"context"
	"time"

	"github.com/chisme-chat/chisme/auth"
	"github.com/chisme-chat/chisme/persistence"
	"github.com/chisme-chat/chisme/presence"
	"github.com/chisme-chat/chisme/types"
	"github.com/chisme-chat/chisme/voice"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// Dispatcher owns the per-connection state machine: handshake, the
// authenticated event loop and the cleanup cascade on disconnect. All state
// lives in the injected registries, shared across connections.
type Dispatcher struct {
	Registry *Registry
	Presence *presence.Service
	Voice    *voice.Registry

	Verifier  auth.Verifier
	Persister persistence.Persister

	HandshakeTimeout time.Duration
	Logger           hclog.Logger
}

// Serve runs one connection from transport accept to cleanup. It returns
// when the connection is closed, whichever side initiates it.
func (d *Dispatcher) Serve(ctx context.Context, conn Conn, room types.Room) {
	user, ok := d.handshake(ctx, conn, room)
	if !ok {
		return
	}

	client := NewClient(conn, room, user)
	logger := d.Logger.With("room", room.Key(), "user_id", user.Id, "conn", client.Id)

	if prev := d.Registry.Attach(room, client); prev != nil {
		logger.Info("superseding stale connection", "old_conn", prev.Id)
		prev.CloseWithCode(websocket.CloseGoingAway, "superseded by a newer connection")
	}
	d.Presence.SetStatus(ctx, user.Id, types.StatusOnline)
	d.Registry.Broadcast(room, types.NewUserJoinedEvent(user), 0)
	d.Registry.Broadcast(room, types.NewPresenceChangedEvent(user.Id, types.StatusOnline), 0)

	// a freshly attached client should not have to wait for future events
	// to learn who is already in voice
	if snapshot := d.Voice.Snapshot(room); len(snapshot) > 0 {
		_ = client.SendJSON(types.NewVoiceStateSnapshotEvent(room, snapshot))
	}

	done := make(chan struct{})
	go d.pingLoop(client, done)

	defer func() {
		close(done)
		d.cleanup(ctx, client)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("connection closed unexpectedly", "error", err)
			}
			return
		}
		event, err := types.ParseInbound(raw)
		if err != nil {
			// malformed payload on a recognized type: drop, keep serving
			logger.Debug("dropping malformed frame", "error", err)
			continue
		}
		d.dispatch(ctx, client, event, logger)
	}
}

// handshake enforces the single-shot auth gate: the first frame must be an
// auth frame with a resolvable credential, arriving before the handshake
// timeout. Failure closes the connection with a distinguished code and
// produces no events; there is no retry on the same transport.
func (d *Dispatcher) handshake(ctx context.Context, conn Conn, room types.Room) (types.User, bool) {
	fail := func(code int, reason string) (types.User, bool) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = conn.Close()
		return types.User{}, false
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		d.Logger.Debug("handshake: transport closed before auth", "room", room.Key(), "error", err)
		return fail(CloseHandshakeFailed, "auth required")
	}
	event, err := types.ParseInbound(raw)
	if err != nil || event.Kind != types.EventAuth {
		d.Logger.Debug("handshake: first frame is not auth", "room", room.Key())
		return fail(CloseHandshakeFailed, "auth required")
	}

	userId, err := d.Verifier.ResolveIdentity(event.Auth.Token)
	if err != nil {
		d.Logger.Debug("handshake: invalid credential", "room", room.Key())
		return fail(CloseHandshakeFailed, "invalid credential")
	}

	user := types.User{Id: userId}
	if d.Persister != nil {
		resolved, err := d.Persister.GetUser(userId)
		if err != nil {
			d.Logger.Error("handshake: user lookup failed", "user_id", userId, "error", err)
			return fail(CloseHandshakeFailed, "auth unavailable")
		}
		if resolved == nil {
			d.Logger.Debug("handshake: unknown or inactive user", "user_id", userId)
			return fail(CloseHandshakeFailed, "invalid credential")
		}
		user = *resolved

		member, err := d.roomMember(room, userId)
		if err != nil {
			d.Logger.Error("handshake: membership lookup failed", "user_id", userId, "error", err)
			return fail(websocket.ClosePolicyViolation, "membership unavailable")
		}
		if !member {
			d.Logger.Info("handshake: membership denied", "room", room.Key(), "user_id", userId)
			return fail(websocket.ClosePolicyViolation, "not a member")
		}
	}

	_ = conn.SetReadDeadline(time.Time{})
	return user, true
}

func (d *Dispatcher) roomMember(room types.Room, userId int64) (bool, error) {
	switch room.Kind {
	case types.RoomChannel:
		return d.Persister.IsChannelMember(room.Id, userId)
	case types.RoomDM:
		return d.Persister.IsDMParticipant(room.Id, userId)
	case types.RoomCommunity:
		return d.Persister.IsCommunityMember(room.Id, userId)
	}
	return false, nil
}

// dispatch routes one decoded event. A panicking handler is logged and
// swallowed: one bad event must not kill an otherwise healthy session.
func (d *Dispatcher) dispatch(ctx context.Context, client *Client, event *types.Inbound, logger hclog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked", "kind", event.Kind, "panic", r)
		}
	}()

	room := client.Room
	user := client.User

	switch event.Kind {
	case types.EventUnknown:
		// forward compatibility: silently dropped

	case types.EventAuth:
		// a second auth frame after the handshake carries no meaning

	case types.EventTyping:
		d.Registry.Broadcast(room, types.NewTypingEvent(user), user.Id)

	case types.EventHeartbeat:
		d.Presence.Heartbeat(ctx, user.Id)

	case types.EventVoiceJoin:
		left := d.Voice.Join(ctx, room, user, event.VoiceJoin.Muted, event.VoiceJoin.Video)
		if left != nil {
			d.Registry.Broadcast(*left, types.NewVoiceUserLeftEvent(*left, user.Id), 0)
		}
		joined := types.VoiceParticipant{
			UserId:   user.Id,
			Username: user.Username,
			Muted:    event.VoiceJoin.Muted,
			Video:    event.VoiceJoin.Video,
		}
		d.Registry.Broadcast(room, types.NewVoiceUserJoinedEvent(room, joined), 0)

	case types.EventVoiceLeave:
		if d.Voice.Leave(ctx, room, user.Id) {
			d.Registry.Broadcast(room, types.NewVoiceUserLeftEvent(room, user.Id), 0)
		}

	case types.EventVoiceStateUpdate:
		state, ok := d.Voice.UpdateState(ctx, room, user.Id,
			event.VoiceState.Muted, event.VoiceState.Video, event.VoiceState.Speaking)
		if ok {
			d.Registry.Broadcast(room, types.NewVoiceStateChangedEvent(room, state), user.Id)
		}

	case types.EventVoiceOffer:
		d.relay(room, user, types.WireVoiceOffer, event.Signal)

	case types.EventVoiceAnswer:
		d.relay(room, user, types.WireVoiceAnswer, event.Signal)

	case types.EventVoiceCandidate:
		d.relay(room, user, types.WireVoiceCandidate, event.Signal)

	case types.EventVoiceHeartbeat:
		d.Voice.Heartbeat(ctx, room, user.Id)
	}
}

// relay forwards call-setup payloads between two participants. The payload
// is never inspected; a missing or non-integer target, or a target that is
// not a current voice participant, drops the frame silently.
func (d *Dispatcher) relay(room types.Room, from types.User, wireType string, signal *types.SignalFrame) {
	if signal == nil || !signal.TargetOk {
		return
	}
	if !d.Voice.IsParticipant(room, signal.Target) {
		return
	}
	d.Registry.SendToUser(room, signal.Target, types.NewSignalEvent(wireType, from.Id, signal.Payload))
}

// cleanup runs the disconnect cascade exactly once, also when a read error
// and an explicit close race. Order matters and every step runs even if an
// earlier broadcast failed: each step is independently idempotent, and the
// store TTLs correct any partial completion.
func (d *Dispatcher) cleanup(ctx context.Context, client *Client) {
	client.cleanupOnce.Do(func() {
		room := client.Room
		user := client.User

		if d.Voice.Leave(ctx, room, user.Id) {
			d.Registry.Broadcast(room, types.NewVoiceUserLeftEvent(room, user.Id), 0)
		}
		d.Registry.Detach(room, client)
		d.Presence.SetOffline(ctx, user.Id)
		d.Registry.Broadcast(room, types.NewUserLeftEvent(user), 0)
		d.Registry.Broadcast(room, types.NewPresenceChangedEvent(user.Id, types.StatusOffline), 0)

		_ = client.conn.Close()
		d.Logger.Info("session closed", "room", room.Key(), "user_id", user.Id, "conn", client.Id)
	})
}

func (d *Dispatcher) pingLoop(client *Client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}
