package model

import "time"

// Change operations carried by outbox rows and realtime events.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Outbox 状态
const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)

// Outbox 变更外发盒：业务写入与变更记录在同一事务落地，由 relay 推送到实时通道
type Outbox struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	Table       string    `gorm:"column:source_table;type:varchar(32);not null"`
	Op          string    `gorm:"type:varchar(16);not null"`
	RowID       string    `gorm:"type:varchar(64);not null"`
	Scope       string    `gorm:"type:varchar(128)"`
	CreatedAt   time.Time `gorm:"index"`
	Status      string    `gorm:"type:varchar(16);index"` // pending, processing, done
	ProcessedAt *time.Time
}

func (Outbox) TableName() string { return "outbox" }

// All lists every table for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Profile{}, &Post{}, &Like{}, &Follow{},
		&Chat{}, &ChatParticipant{}, &Message{}, &Outbox{},
	}
}
