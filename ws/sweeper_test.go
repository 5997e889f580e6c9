package ws

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chisme-chat/chisme/store"
	"github.com/chisme-chat/chisme/types"
	"github.com/chisme-chat/chisme/voice"
)

func TestSweepAnnouncesExpiredParticipants(t *testing.T) {
	st, err := store.NewBuntStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := hclog.NewNullLogger()
	registry := NewRegistry(logger)
	voiceReg := voice.NewRegistry(st, "test", 50*time.Millisecond, logger)
	sweeper, err := NewSweeper(registry, voiceReg, "@every 1m", logger)
	require.NoError(t, err)

	room := types.Room{Kind: types.RoomChannel, Id: 1}
	_, peer := attachFake(registry, room, 2)
	voiceReg.Join(context.Background(), room, types.User{Id: 1, Username: "ghost"}, false, false)

	time.Sleep(120 * time.Millisecond)
	sweeper.sweep()

	left := peer.eventsOfType(t, types.WireVoiceUserLeft)
	require.Len(t, left, 1)
	assert.EqualValues(t, 1, left[0]["user_id"])
	assert.False(t, voiceReg.IsParticipant(room, 1))

	info := peer.eventsOfType(t, types.WireRoomInfo)
	require.Len(t, info, 1)
	assert.Equal(t, room.Key(), info[0]["room"])
	assert.EqualValues(t, 1, info[0]["connections"])
}

func TestSweepRejectsBadSpec(t *testing.T) {
	logger := hclog.NewNullLogger()
	_, err := NewSweeper(NewRegistry(logger), voice.NewRegistry(nil, "test", time.Minute, logger), "not a spec", logger)
	assert.Error(t, err)
}
