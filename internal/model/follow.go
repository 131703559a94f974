package model

import (
	"time"
)

// Follow 关注关系（A 关注 B），两端都是 UID
type Follow struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	FollowerID string `gorm:"type:varchar(64);index:idx_follow_follower;index:idx_follow_pair,unique;not null"`
	FolloweeID string `gorm:"type:varchar(64);index:idx_follow_followee;not null;index:idx_follow_pair,unique"`
	// 复合唯一键，避免重复关注
	// idx_follow_pair = (follower_id, followee_id)
	CreatedAt time.Time
}

func (Follow) TableName() string { return "follows" }
