package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedsync/internal/model"
)

type ChatRepository interface {
	Create(ctx context.Context, chat *model.Chat, participantIDs []string) error
	GetByChatID(ctx context.Context, chatID string) (*model.Chat, error)
	// ListForUser 按最后消息时间倒序，无消息的会话排在最后
	ListForUser(ctx context.Context, userID string, offset, limit int) ([]*model.Chat, error)
	// Participants 批量取参与者，key 为 chat_id
	Participants(ctx context.Context, chatIDs []string) (map[string][]*model.ChatParticipant, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

type chatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository { return &chatRepository{db: db} }

func (r *chatRepository) Create(ctx context.Context, chat *model.Chat, participantIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		if len(participantIDs) == 0 {
			return nil
		}
		rows := make([]model.ChatParticipant, 0, len(participantIDs))
		for _, uid := range participantIDs {
			rows = append(rows, model.ChatParticipant{ID: newID(), ChatID: chat.ChatID, UserID: uid, Role: "member"})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

func (r *chatRepository) GetByChatID(ctx context.Context, chatID string) (*model.Chat, error) {
	var c model.Chat
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *chatRepository) ListForUser(ctx context.Context, userID string, offset, limit int) ([]*model.Chat, error) {
	sub := r.db.Model(&model.ChatParticipant{}).Select("chat_id").Where("user_id = ?", userID)
	var res []*model.Chat
	err := r.db.WithContext(ctx).
		Where("chat_id IN (?)", sub).
		Order("last_message_time IS NULL").
		Order("last_message_time DESC").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *chatRepository) Participants(ctx context.Context, chatIDs []string) (map[string][]*model.ChatParticipant, error) {
	out := make(map[string][]*model.ChatParticipant, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}
	var rows []*model.ChatParticipant
	if err := r.db.WithContext(ctx).Where("chat_id IN ?", chatIDs).Order("user_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ChatID] = append(out[p.ChatID], p)
	}
	return out, nil
}

func (r *chatRepository) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).Count(&cnt).Error
	return cnt > 0, err
}
