package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedsync/internal/model"
)

func newID() string { return uuid.New().String() }

func lockSkipLocked() clause.Locking {
	return clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}
}

type OutboxRepository interface {
	// Claim 认领一批 pending 记录并标记为 processing
	Claim(ctx context.Context, limit int) ([]*model.Outbox, error)
	MarkDone(ctx context.Context, ids []string) error
	// Release 发布失败时放回 pending，等待下一轮
	Release(ctx context.Context, ids []string) error
	CountPending(ctx context.Context) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) Claim(ctx context.Context, limit int) ([]*model.Outbox, error) {
	var batch []*model.Outbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.OutboxPending).Order("created_at").Order("id").Limit(limit)
		// sqlite 单连接串行写，不需要也不支持行锁
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(lockSkipLocked())
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).Where("id IN ?", ids).Update("status", model.OutboxProcessing).Error
	})
	if err != nil {
		return nil, err
	}
	for _, b := range batch {
		b.Status = model.OutboxProcessing
	}
	return batch, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Outbox{}).Where("id IN ?", ids).
		Updates(map[string]any{"status": model.OutboxDone, "processed_at": now}).Error
}

func (r *outboxRepository) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Outbox{}).Where("id IN ?", ids).
		Update("status", model.OutboxPending).Error
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).Where("status = ?", model.OutboxPending).Count(&cnt).Error
	return cnt, err
}
