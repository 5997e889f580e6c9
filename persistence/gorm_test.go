package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersister(t *testing.T) *GormPersist {
	t.Helper()
	p, err := NewGormPersister(filepath.Join(t.TempDir(), "chisme.db"))
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(func() { p.Close() })
	return p.(*GormPersist)
}

func seedCommunity(t *testing.T, p *GormPersist) {
	t.Helper()
	require.NoError(t, p.db.Create(&User{Id: 1, Username: "alice"}).Error)
	require.NoError(t, p.db.Create(&User{Id: 2, Username: "bob"}).Error)
	require.NoError(t, p.db.Create(&User{Id: 3, Username: "mallory", IsActive: false}).Error)
	require.NoError(t, p.db.Create(&Community{Id: 10}).Error)
	require.NoError(t, p.db.Create(&CommunityMembership{CommunityId: 10, UserId: 1}).Error)
	require.NoError(t, p.db.Create(&Channel{Id: 100, CommunityId: 10}).Error)
	require.NoError(t, p.db.Create(&DMChannel{Id: 200, User1Id: 1, User2Id: 2}).Error)
}

func TestNoPersisterWithoutDSN(t *testing.T) {
	p, err := NewGormPersister("")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetUser(t *testing.T) {
	p := newTestPersister(t)
	seedCommunity(t, p)

	user, err := p.GetUser(1)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)

	// second lookup is served from the cache
	cached, err := p.GetUser(1)
	require.NoError(t, err)
	assert.Equal(t, user, cached)

	// inactive and unknown users both resolve to nil without error
	user, err = p.GetUser(3)
	require.NoError(t, err)
	assert.Nil(t, user)
	user, err = p.GetUser(99)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestMembership(t *testing.T) {
	p := newTestPersister(t)
	seedCommunity(t, p)

	ok, err := p.IsCommunityMember(10, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.IsCommunityMember(10, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// channel membership follows the owning community
	ok, err = p.IsChannelMember(100, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.IsChannelMember(100, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = p.IsChannelMember(999, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.IsDMParticipant(200, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.IsDMParticipant(200, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.IsDMParticipant(200, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = p.IsDMParticipant(999, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnreadWithoutCursor(t *testing.T) {
	p := newTestPersister(t)
	seedCommunity(t, p)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, p.db.Create(&Message{Id: i, ChannelId: 100, UserId: 2}).Error)
	}

	// no receipt: everything counts as unread
	counts, err := p.UnreadCounts(1, []int64{100})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{100: 5}, counts)

	counts, err = p.UnreadCounts(1, nil)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestUnreadExcludesDeleted(t *testing.T) {
	p := newTestPersister(t)
	seedCommunity(t, p)
	require.NoError(t, p.db.Create(&Message{Id: 1, ChannelId: 100, UserId: 2}).Error)
	require.NoError(t, p.db.Create(&Message{Id: 2, ChannelId: 100, UserId: 2, Deleted: true}).Error)
	require.NoError(t, p.db.Create(&Message{Id: 3, ChannelId: 100, UserId: 2}).Error)

	counts, err := p.UnreadCounts(1, []int64{100})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{100: 2}, counts)
}

func TestMarkReadAdvancesCursor(t *testing.T) {
	p := newTestPersister(t)
	seedCommunity(t, p)

	// empty channel: the cursor settles at zero and everything stays read
	cursor, err := p.MarkRead(1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, p.db.Create(&Message{Id: i, ChannelId: 100, UserId: 2}).Error)
	}
	cursor, err = p.MarkRead(1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)

	counts, err := p.UnreadCounts(1, []int64{100})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{100: 0}, counts)

	require.NoError(t, p.db.Create(&Message{Id: 4, ChannelId: 100, UserId: 2}).Error)
	counts, err = p.UnreadCounts(1, []int64{100})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{100: 1}, counts)
}

func TestMarkReadNeverMovesBackward(t *testing.T) {
	p := newTestPersister(t)
	seedCommunity(t, p)
	require.NoError(t, p.db.Create(&Message{Id: 1, ChannelId: 100, UserId: 2}).Error)

	// a stale receipt ahead of the current maximum stays where it is,
	// as when a racing mark already advanced it further
	require.NoError(t, p.db.Create(&ReadReceipt{UserId: 1, ChannelId: 100, LastReadMessageId: 9}).Error)

	cursor, err := p.MarkRead(1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(9), cursor)

	var receipt ReadReceipt
	require.NoError(t, p.db.Where("user_id = ? AND channel_id = ?", 1, 100).First(&receipt).Error)
	assert.Equal(t, int64(9), receipt.LastReadMessageId)
}

func TestMarkReadIsPerUserAndChannel(t *testing.T) {
	p := newTestPersister(t)
	seedCommunity(t, p)
	require.NoError(t, p.db.Create(&Channel{Id: 101, CommunityId: 10}).Error)
	require.NoError(t, p.db.Create(&Message{Id: 1, ChannelId: 100, UserId: 2}).Error)
	require.NoError(t, p.db.Create(&Message{Id: 2, ChannelId: 101, UserId: 2}).Error)

	_, err := p.MarkRead(1, 100)
	require.NoError(t, err)

	counts, err := p.UnreadCounts(1, []int64{100, 101})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{100: 0, 101: 1}, counts)

	// bob never marked anything
	counts, err = p.UnreadCounts(2, []int64{100, 101})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{100: 1, 101: 1}, counts)
}
