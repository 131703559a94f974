package model

import "time"

const LikeTargetPost = "post"

// Like 点赞（likes 表），同一 (user, target, type) 只能有一行
type Like struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)"`
	UserID     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_like_user_target"`
	TargetID   string    `gorm:"type:varchar(36);not null;index;uniqueIndex:ux_like_user_target"`
	TargetType string    `gorm:"type:varchar(16);not null;uniqueIndex:ux_like_user_target"`
	CreatedAt  time.Time
}

func (Like) TableName() string { return "likes" }
