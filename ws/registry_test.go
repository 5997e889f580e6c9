package ws

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"

	"github.com/chisme-chat/chisme/types"
)

var testRoom = types.Room{Kind: types.RoomChannel, Id: 42}

func attachFake(r *Registry, room types.Room, userId int64) (*Client, *fakeConn) {
	conn := newFakeConn()
	client := NewClient(conn, room, types.User{Id: userId})
	r.Attach(room, client)
	return client, conn
}

func TestAttachSupersedes(t *testing.T) {
	r := NewRegistry(hclog.NewNullLogger())

	first, _ := attachFake(r, testRoom, 1)
	assert.Equal(t, 1, r.Count(testRoom))

	second := NewClient(newFakeConn(), testRoom, types.User{Id: 1})
	prev := r.Attach(testRoom, second)
	assert.Same(t, first, prev)
	assert.Equal(t, 1, r.Count(testRoom))

	// a late detach of the superseded client must not evict the newer one
	r.Detach(testRoom, first)
	assert.Equal(t, 1, r.Count(testRoom))
	assert.True(t, r.SendToUser(testRoom, 1, types.NewTypingEvent(types.User{Id: 2})))

	r.Detach(testRoom, second)
	assert.Equal(t, 0, r.Count(testRoom))
	r.Detach(testRoom, second)
}

func TestBroadcastSurvivesDeadPeer(t *testing.T) {
	r := NewRegistry(hclog.NewNullLogger())

	_, connA := attachFake(r, testRoom, 1)
	_, connB := attachFake(r, testRoom, 2)
	_, connC := attachFake(r, testRoom, 3)
	connC.failWrites = true

	r.Broadcast(testRoom, types.NewUserJoinedEvent(types.User{Id: 9, Username: "nine"}), 0)

	assert.Len(t, connA.frames(), 1)
	assert.Len(t, connB.frames(), 1)
	assert.Empty(t, connC.frames())

	// the dead peer is detached, the healthy ones stay
	assert.Equal(t, 2, r.Count(testRoom))
	assert.ElementsMatch(t, []int64{1, 2}, r.RoomMembers(testRoom))
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := NewRegistry(hclog.NewNullLogger())

	_, connA := attachFake(r, testRoom, 1)
	_, connB := attachFake(r, testRoom, 2)

	r.Broadcast(testRoom, types.NewTypingEvent(types.User{Id: 1}), 1)

	assert.Empty(t, connA.frames())
	assert.Len(t, connB.frames(), 1)
}

func TestBroadcastStaysInRoom(t *testing.T) {
	r := NewRegistry(hclog.NewNullLogger())
	otherRoom := types.Room{Kind: types.RoomDM, Id: 7}

	_, connA := attachFake(r, testRoom, 1)
	_, connB := attachFake(r, otherRoom, 2)

	r.Broadcast(testRoom, types.NewUserJoinedEvent(types.User{Id: 1}), 0)

	assert.Len(t, connA.frames(), 1)
	assert.Empty(t, connB.frames())
}

func TestSendToUser(t *testing.T) {
	r := NewRegistry(hclog.NewNullLogger())

	_, connA := attachFake(r, testRoom, 1)

	assert.True(t, r.SendToUser(testRoom, 1, types.NewTypingEvent(types.User{Id: 2})))
	assert.Len(t, connA.frames(), 1)

	assert.False(t, r.SendToUser(testRoom, 99, types.NewTypingEvent(types.User{Id: 2})))

	connA.failWrites = true
	assert.False(t, r.SendToUser(testRoom, 1, types.NewTypingEvent(types.User{Id: 2})))
	assert.Equal(t, 0, r.Count(testRoom))
}

func TestRoomsSnapshot(t *testing.T) {
	r := NewRegistry(hclog.NewNullLogger())
	assert.Empty(t, r.Rooms())

	otherRoom := types.Room{Kind: types.RoomCommunity, Id: 3}
	attachFake(r, testRoom, 1)
	attachFake(r, testRoom, 2)
	attachFake(r, otherRoom, 1)

	rooms := r.Rooms()
	assert.Len(t, rooms, 2)
	assert.Equal(t, 2, r.Count(testRoom))
	assert.Equal(t, 1, r.Count(otherRoom))
}
