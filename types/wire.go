package types

// Wire names of the events this engine emits. Voice signaling reuses the
// inbound names: an offer goes out as "voice.offer" with the sender attached.
const (
	WireUserJoined         = "user.joined"
	WireUserLeft           = "user.left"
	WirePresenceChanged    = "presence.changed"
	WireVoiceUserJoined    = "voice.user_joined"
	WireVoiceUserLeft      = "voice.user_left"
	WireVoiceStateChanged  = "voice.state_changed"
	WireVoiceStateSnapshot = "voice.state_snapshot"
	WireRoomInfo           = "room.info"
)

// The outbound event shapes. One JSON object per websocket text frame, the
// "type" field discriminates.

type UserJoinedEvent struct {
	Type     string `json:"type"`
	UserId   int64  `json:"user_id"`
	Username string `json:"username"`
}

type UserLeftEvent struct {
	Type     string `json:"type"`
	UserId   int64  `json:"user_id"`
	Username string `json:"username"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	UserId   int64  `json:"user_id"`
	Username string `json:"username"`
}

type PresenceChangedEvent struct {
	Type   string `json:"type"`
	UserId int64  `json:"user_id"`
	Status Status `json:"status"`
}

type VoiceUserJoinedEvent struct {
	Type      string `json:"type"`
	ChannelId int64  `json:"channel_id"`
	UserId    int64  `json:"user_id"`
	Username  string `json:"username"`
	Muted     bool   `json:"muted"`
	Video     bool   `json:"video"`
}

type VoiceUserLeftEvent struct {
	Type      string `json:"type"`
	ChannelId int64  `json:"channel_id"`
	UserId    int64  `json:"user_id"`
}

type VoiceStateChangedEvent struct {
	Type      string `json:"type"`
	ChannelId int64  `json:"channel_id"`
	UserId    int64  `json:"user_id"`
	Muted     bool   `json:"muted"`
	Video     bool   `json:"video"`
	Speaking  bool   `json:"speaking"`
}

type VoiceStateSnapshotEvent struct {
	Type      string             `json:"type"`
	ChannelId int64              `json:"channel_id"`
	Users     []VoiceParticipant `json:"users"`
}

// SignalEvent relays an offer, answer or ICE candidate to one participant.
// Payload is the sender's SDP or candidate, forwarded uninspected under its
// original key.
type SignalEvent struct {
	Type       string      `json:"type"`
	FromUserId int64       `json:"from_user_id"`
	SDP        interface{} `json:"sdp,omitempty"`
	Candidate  interface{} `json:"candidate,omitempty"`
}

type RoomInfoEvent struct {
	Type        string `json:"type"`
	Room        string `json:"room"`
	Connections int    `json:"connections"`
}

func NewUserJoinedEvent(user User) UserJoinedEvent {
	return UserJoinedEvent{Type: WireUserJoined, UserId: user.Id, Username: user.Username}
}

func NewUserLeftEvent(user User) UserLeftEvent {
	return UserLeftEvent{Type: WireUserLeft, UserId: user.Id, Username: user.Username}
}

func NewTypingEvent(user User) TypingEvent {
	return TypingEvent{Type: WireTyping, UserId: user.Id, Username: user.Username}
}

func NewPresenceChangedEvent(userId int64, status Status) PresenceChangedEvent {
	return PresenceChangedEvent{Type: WirePresenceChanged, UserId: userId, Status: status}
}

func NewVoiceUserJoinedEvent(room Room, p VoiceParticipant) VoiceUserJoinedEvent {
	return VoiceUserJoinedEvent{
		Type:      WireVoiceUserJoined,
		ChannelId: room.Id,
		UserId:    p.UserId,
		Username:  p.Username,
		Muted:     p.Muted,
		Video:     p.Video,
	}
}

func NewVoiceUserLeftEvent(room Room, userId int64) VoiceUserLeftEvent {
	return VoiceUserLeftEvent{Type: WireVoiceUserLeft, ChannelId: room.Id, UserId: userId}
}

func NewVoiceStateChangedEvent(room Room, p VoiceParticipant) VoiceStateChangedEvent {
	return VoiceStateChangedEvent{
		Type:      WireVoiceStateChanged,
		ChannelId: room.Id,
		UserId:    p.UserId,
		Muted:     p.Muted,
		Video:     p.Video,
		Speaking:  p.Speaking,
	}
}

func NewVoiceStateSnapshotEvent(room Room, users []VoiceParticipant) VoiceStateSnapshotEvent {
	return VoiceStateSnapshotEvent{Type: WireVoiceStateSnapshot, ChannelId: room.Id, Users: users}
}

func NewSignalEvent(wireType string, from int64, payload interface{}) SignalEvent {
	ev := SignalEvent{Type: wireType, FromUserId: from}
	if wireType == WireVoiceCandidate {
		ev.Candidate = payload
	} else {
		ev.SDP = payload
	}
	return ev
}

func NewRoomInfoEvent(room Room, connections int) RoomInfoEvent {
	return RoomInfoEvent{Type: WireRoomInfo, Room: room.Key(), Connections: connections}
}
