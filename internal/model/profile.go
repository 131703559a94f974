package model

import "time"

// ProfileNeedsCompletion 首次登录自动建档时写入 bio 的占位值
const ProfileNeedsCompletion = "__SYNAPSE_PROFILE_NEEDS_COMPLETION__"

// Profile 用户资料（users 表）。UID 是认证系统里的主体 id，其余表都以 UID 关联。
type Profile struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UID            string    `json:"uid" gorm:"type:varchar(64);uniqueIndex;not null"`
	Email          string    `json:"email,omitempty" gorm:"type:varchar(255)"`
	Username       string    `json:"username" gorm:"type:varchar(64);uniqueIndex;not null"`
	DisplayName    string    `json:"display_name" gorm:"type:varchar(128)"`
	Avatar         string    `json:"avatar" gorm:"type:text"`
	Bio            *string   `json:"bio" gorm:"type:text"`
	FollowersCount int64     `json:"followers_count" gorm:"not null;default:0"`
	FollowingCount int64     `json:"following_count" gorm:"not null;default:0"`
	PostsCount     int64     `json:"posts_count" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "users" }

func (p Profile) EntityID() string    { return p.UID }
func (p Profile) SortTime() time.Time { return p.CreatedAt }

// NeedsCompletion reports whether the bootstrap placeholder bio is still set.
func (p Profile) NeedsCompletion() bool {
	return p.Bio != nil && *p.Bio == ProfileNeedsCompletion
}

// UnknownProfile stands in for an author whose profile could not be loaded.
func UnknownProfile(uid string) Profile {
	return Profile{UID: uid, Username: "unknown", DisplayName: "Unknown"}
}
