package types

import "strconv"

// RoomKind distinguishes the three broadcast domains a live connection can
// attach to. The kinds share no behavior beyond how their key is built.
type RoomKind int

const (
	RoomChannel RoomKind = iota
	RoomDM
	RoomCommunity
)

func (k RoomKind) String() string {
	switch k {
	case RoomChannel:
		return "channel"
	case RoomDM:
		return "dm"
	case RoomCommunity:
		return "community"
	}
	return "unknown"
}

// Room is a broadcast domain. A connection is attached to exactly one room
// with one identity at a time.
type Room struct {
	Kind RoomKind
	Id   int64
}

// Key is the canonical form used by the connection registry and the
// ephemeral store, e.g. "channel:42".
func (r Room) Key() string {
	return r.Kind.String() + ":" + strconv.FormatInt(r.Id, 10)
}
