package persistence

import (
	"errors"

	"github.com/chisme-chat/chisme/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const userCacheSize = 1024

// The durable rows this engine reads. Writes to users, channels and
// messages happen elsewhere; the schema here only has to agree on names.

type User struct {
	Id       int64  `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex"`
	IsActive bool   `gorm:"default:true"`
}

type Community struct {
	Id int64 `gorm:"primaryKey"`
}

type CommunityMembership struct {
	Id          int64 `gorm:"primaryKey"`
	CommunityId int64 `gorm:"index:idx_membership,unique"`
	UserId      int64 `gorm:"index:idx_membership,unique"`
}

type Channel struct {
	Id          int64 `gorm:"primaryKey"`
	CommunityId int64 `gorm:"index"`
}

type DMChannel struct {
	Id      int64 `gorm:"primaryKey"`
	User1Id int64
	User2Id int64
}

type Message struct {
	Id        int64 `gorm:"primaryKey"`
	ChannelId int64 `gorm:"index"`
	UserId    int64
	Deleted   bool `gorm:"default:false"`
}

// ReadReceipt tracks the last-read message per (user, channel) pair. A
// missing row means the user has never opened the channel.
type ReadReceipt struct {
	Id                int64 `gorm:"primaryKey"`
	UserId            int64 `gorm:"index:idx_receipt,unique"`
	ChannelId         int64 `gorm:"index:idx_receipt,unique"`
	LastReadMessageId int64
}

type GormPersist struct {
	db        *gorm.DB
	userCache *lru.Cache[int64, types.User]
}

func NewGormPersister(dsn string) (Persister, error) {
	if dsn == "" {
		return nil, nil // no configuration, run without a persister
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	err = db.AutoMigrate(&User{}, &Community{}, &CommunityMembership{}, &Channel{}, &DMChannel{}, &Message{}, &ReadReceipt{})
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[int64, types.User](userCacheSize)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db, userCache: cache}, nil
}

func (p *GormPersist) GetUser(userId int64) (*types.User, error) {
	if cached, ok := p.userCache.Get(userId); ok {
		return &cached, nil
	}
	var user User
	err := p.db.Where("id = ? AND is_active = ?", userId, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resolved := types.User{Id: user.Id, Username: user.Username}
	p.userCache.Add(userId, resolved)
	return &resolved, nil
}

func (p *GormPersist) IsChannelMember(channelId, userId int64) (bool, error) {
	var channel Channel
	err := p.db.First(&channel, channelId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.IsCommunityMember(channel.CommunityId, userId)
}

func (p *GormPersist) IsDMParticipant(dmId, userId int64) (bool, error) {
	var dm DMChannel
	err := p.db.First(&dm, dmId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return dm.User1Id == userId || dm.User2Id == userId, nil
}

func (p *GormPersist) IsCommunityMember(communityId, userId int64) (bool, error) {
	var count int64
	err := p.db.Model(&CommunityMembership{}).
		Where("community_id = ? AND user_id = ?", communityId, userId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *GormPersist) MarkRead(userId, channelId int64) (int64, error) {
	var cursor int64
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var maxId int64
		err := tx.Model(&Message{}).
			Where("channel_id = ?", channelId).
			Select("COALESCE(MAX(id), 0)").
			Scan(&maxId).Error
		if err != nil {
			return err
		}

		var receipt ReadReceipt
		err = tx.Where("user_id = ? AND channel_id = ?", userId, channelId).First(&receipt).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor = maxId
			return tx.Create(&ReadReceipt{
				UserId:            userId,
				ChannelId:         channelId,
				LastReadMessageId: maxId,
			}).Error
		}
		if err != nil {
			return err
		}
		// monotonic: concurrent marks race, the highest ordinal wins
		cursor = receipt.LastReadMessageId
		if maxId > receipt.LastReadMessageId {
			cursor = maxId
			return tx.Model(&ReadReceipt{}).
				Where("id = ? AND last_read_message_id < ?", receipt.Id, maxId).
				Update("last_read_message_id", maxId).Error
		}
		return nil
	})
	return cursor, err
}

func (p *GormPersist) UnreadCounts(userId int64, channelIds []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(channelIds))
	if len(channelIds) == 0 {
		return counts, nil
	}
	for _, channelId := range channelIds {
		var receipt ReadReceipt
		cursor := int64(0)
		err := p.db.Where("user_id = ? AND channel_id = ?", userId, channelId).First(&receipt).Error
		if err == nil {
			cursor = receipt.LastReadMessageId
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		var count int64
		err = p.db.Model(&Message{}).
			Where("channel_id = ? AND deleted = ? AND id > ?", channelId, false, cursor).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		counts[channelId] = count
	}
	return counts, nil
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
