package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

type LikeRepository interface {
	Exists(ctx context.Context, userID, postID string) (bool, error)
	// LikedAmong 返回 postIDs 中 userID 已点赞的集合（一次查询）
	LikedAmong(ctx context.Context, userID string, postIDs []string) (map[string]bool, error)
}

type likeRepository struct {
	db *gorm.DB
}

func NewLikeRepository(db *gorm.DB) LikeRepository { return &likeRepository{db: db} }

func (r *likeRepository) Exists(ctx context.Context, userID, postID string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Like{}).
		Where("user_id = ? AND target_id = ? AND target_type = ?", userID, postID, model.LikeTargetPost).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *likeRepository) LikedAmong(ctx context.Context, userID string, postIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(postIDs))
	if userID == "" || len(postIDs) == 0 {
		return out, nil
	}
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.Like{}).
		Where("user_id = ? AND target_type = ? AND target_id IN ?", userID, model.LikeTargetPost, postIDs).
		Pluck("target_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
