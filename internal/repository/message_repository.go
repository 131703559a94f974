package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

type MessageRepository interface {
	// ListPage 按 created_at 倒序分页（最新一页在前），调用方负责反转
	ListPage(ctx context.Context, chatID string, offset, limit int) ([]*model.Message, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository { return &messageRepository{db: db} }

func (r *messageRepository) ListPage(ctx context.Context, chatID string, offset, limit int) ([]*model.Message, error) {
	var res []*model.Message
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
