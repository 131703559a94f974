package model

import "time"

// Message 聊天消息（messages 表），CreatedAt 为毫秒时间戳
type Message struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ChatID      string `json:"chat_id" gorm:"type:varchar(128);not null;index:idx_message_chat_created,priority:1"`
	SenderID    string `json:"sender_id" gorm:"type:varchar(64);not null"`
	Content     string `json:"content" gorm:"type:text;not null"`
	MessageType string `json:"message_type" gorm:"type:varchar(16);not null;default:text"`
	CreatedAt   int64  `json:"created_at" gorm:"autoCreateTime:false;index:idx_message_chat_created,priority:2"`
}

func (Message) TableName() string { return "messages" }

// ThreadMessage is a message joined with its sender.
type ThreadMessage struct {
	Message
	Sender Profile `json:"sender"`
}

func (m ThreadMessage) EntityID() string    { return m.ID }
func (m ThreadMessage) SortTime() time.Time { return time.UnixMilli(m.CreatedAt) }
