package model

import "time"

// Post 帖子（posts 表）。UserID 存作者 UID。
type Post struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID        string    `json:"user_id" gorm:"type:varchar(64);index:idx_post_author_created,priority:1;not null"`
	Content       string    `json:"content" gorm:"type:text;not null"`
	MediaURLs     []string  `json:"media_urls" gorm:"serializer:json"`
	LikesCount    int64     `json:"likes_count" gorm:"not null;default:0"`
	CommentsCount int64     `json:"comments_count" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at" gorm:"index;index:idx_post_author_created,priority:2"`
}

func (Post) TableName() string { return "posts" }

// FeedPost is a post joined with its author plus the state that only makes
// sense relative to the current viewer.
type FeedPost struct {
	Post
	Author          Profile `json:"users"`
	Liked           bool    `json:"is_liked"`
	FollowingAuthor bool    `json:"is_following"`
}

func (p FeedPost) EntityID() string    { return p.ID }
func (p FeedPost) SortTime() time.Time { return p.CreatedAt }
