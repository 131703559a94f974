package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

type PostRepository interface {
	// ListPage 按 created_at 倒序分页；authorID 为空表示全站
	ListPage(ctx context.Context, authorID string, offset, limit int) ([]*model.Post, error)
	GetByID(ctx context.Context, id string) (*model.Post, error)
	CountByAuthor(ctx context.Context, authorID string) (int64, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) ListPage(ctx context.Context, authorID string, offset, limit int) ([]*model.Post, error) {
	q := r.db.WithContext(ctx).Model(&model.Post{})
	if authorID != "" {
		q = q.Where("user_id = ?", authorID)
	}
	var res []*model.Post
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) CountByAuthor(ctx context.Context, authorID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Post{}).Where("user_id = ?", authorID).Count(&cnt).Error
	return cnt, err
}
