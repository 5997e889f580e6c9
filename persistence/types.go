package persistence

import "github.com/chisme-chat/chisme/types"

// Persister is the durable-storage collaborator. The live engine consumes it
// to gate room membership, resolve display names and derive unread counts;
// it never writes message rows itself (MarkRead's cursor is the one
// exception, and that is the user's own state, not content).
type Persister interface {
	// GetUser resolves an authenticated id to its identity. Inactive or
	// unknown users resolve to nil.
	GetUser(userId int64) (*types.User, error)

	IsChannelMember(channelId, userId int64) (bool, error)
	IsDMParticipant(dmId, userId int64) (bool, error)
	IsCommunityMember(communityId, userId int64) (bool, error)

	// MarkRead advances the user's read cursor for a channel to the highest
	// current message ordinal and returns the resulting cursor. The cursor
	// never moves backward, also under concurrent calls.
	MarkRead(userId, channelId int64) (int64, error)

	// UnreadCounts returns, per channel, the number of non-deleted messages
	// above the user's cursor. No cursor means everything is unread.
	UnreadCounts(userId int64, channelIds []int64) (map[int64]int64, error)

	Close() error
}
