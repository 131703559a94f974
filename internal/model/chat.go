package model

import "time"

// Chat 会话（chats 表）。ChatID 是对外的文本 id，消息和参与者都挂在它上面。
type Chat struct {
	ID                string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ChatID            string  `json:"chat_id" gorm:"type:varchar(128);uniqueIndex;not null"`
	IsGroup           bool    `json:"is_group"`
	ChatName          *string `json:"chat_name"`
	ChatAvatar        *string `json:"chat_avatar"`
	LastMessage       *string `json:"last_message" gorm:"type:text"`
	LastMessageTime   *int64  `json:"last_message_time" gorm:"index"`
	LastMessageSender *string `json:"last_message_sender" gorm:"type:varchar(64)"`
	CreatedAt         time.Time
}

func (Chat) TableName() string { return "chats" }

// ChatParticipant 会话成员
type ChatParticipant struct {
	ID      string `gorm:"primaryKey;type:varchar(36)"`
	ChatID  string `gorm:"type:varchar(128);not null;index;uniqueIndex:ux_participant_chat_user"`
	UserID  string `gorm:"type:varchar(64);not null;index;uniqueIndex:ux_participant_chat_user"`
	Role    string `gorm:"type:varchar(16);not null;default:member"`
	IsAdmin bool
}

func (ChatParticipant) TableName() string { return "chat_participants" }

// ChatSummary is one row of the chat list as the viewer sees it.
type ChatSummary struct {
	Chat
	Participants  []Profile `json:"participants"`
	DisplayName   string    `json:"display_name"`
	DisplayAvatar string    `json:"display_avatar"`
}

func (c ChatSummary) EntityID() string { return c.ChatID }

// SortTime orders the chat list; chats without messages get the zero time
// and therefore sort last in a newest-first view.
func (c ChatSummary) SortTime() time.Time {
	if c.LastMessageTime == nil {
		return time.Time{}
	}
	return time.UnixMilli(*c.LastMessageTime)
}
