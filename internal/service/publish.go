package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/repository"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrEmptyContent   = errors.New("content is empty")
	ErrNotParticipant = errors.New("not a chat participant")
)

// Publisher 负责事务内写业务行 + outbox，保证其他客户端能收到实时变更
type Publisher struct {
	db       *gorm.DB
	counters *CounterReplicator
}

func NewPublisher(db *gorm.DB, counters *CounterReplicator) *Publisher {
	return &Publisher{db: db, counters: counters}
}

func writeOutbox(tx *gorm.DB, table, op, rowID, scope string, now time.Time) error {
	out := &model.Outbox{
		ID:        uuid.New().String(),
		Table:     table,
		Op:        op,
		RowID:     rowID,
		Scope:     scope,
		CreatedAt: now,
		Status:    model.OutboxPending,
	}
	return tx.Create(out).Error
}

// CreatePost 在一个事务内落地 Post 与 Outbox 事件
func (p *Publisher) CreatePost(ctx context.Context, authorID, content string, mediaURLs []string) (*model.Post, error) {
	if content == "" && len(mediaURLs) == 0 {
		return nil, ErrEmptyContent
	}
	now := time.Now()
	post := &model.Post{ID: uuid.New().String(), UserID: authorID, Content: content, MediaURLs: mediaURLs, CreatedAt: now}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		return writeOutbox(tx, "posts", model.OpInsert, post.ID, authorID, now)
	})
	if err != nil {
		return nil, err
	}
	p.recountPosts(authorID)
	return post, nil
}

// DeletePost 只能删除自己的帖子，连带删除点赞
func (p *Publisher) DeletePost(ctx context.Context, authorID, postID string) error {
	now := time.Now()
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post model.Post
		if err := tx.Where("id = ?", postID).First(&post).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrNotFound
			}
			return err
		}
		if post.UserID != authorID {
			return ErrForbidden
		}
		if err := tx.Where("target_id = ? AND target_type = ?", postID, model.LikeTargetPost).Delete(&model.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&post).Error; err != nil {
			return err
		}
		return writeOutbox(tx, "posts", model.OpDelete, postID, authorID, now)
	})
	if err != nil {
		return err
	}
	p.recountPosts(authorID)
	return nil
}

// Like 幂等：已点赞时不重复计数，也不产生变更事件
func (p *Publisher) Like(ctx context.Context, userID, postID string) error {
	now := time.Now()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cnt int64
		if err := tx.Model(&model.Post{}).Where("id = ?", postID).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt == 0 {
			return repository.ErrNotFound
		}
		like := &model.Like{ID: uuid.New().String(), UserID: userID, TargetID: postID, TargetType: model.LikeTargetPost, CreatedAt: now}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(like)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&model.Post{}).Where("id = ?", postID).
			UpdateColumn("likes_count", gorm.Expr("likes_count + 1")).Error; err != nil {
			return err
		}
		return writeOutbox(tx, "likes", model.OpInsert, like.ID, postID, now)
	})
}

func (p *Publisher) Unlike(ctx context.Context, userID, postID string) error {
	now := time.Now()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var like model.Like
		err := tx.Where("user_id = ? AND target_id = ? AND target_type = ?", userID, postID, model.LikeTargetPost).First(&like).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&like).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Post{}).Where("id = ? AND likes_count > 0", postID).
			UpdateColumn("likes_count", gorm.Expr("likes_count - 1")).Error; err != nil {
			return err
		}
		return writeOutbox(tx, "likes", model.OpDelete, like.ID, postID, now)
	})
}

func (p *Publisher) Follow(ctx context.Context, followerID, followeeID string) error {
	now := time.Now()
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f := &model.Follow{ID: uuid.New().String(), FollowerID: followerID, FolloweeID: followeeID, CreatedAt: now}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(f)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return writeOutbox(tx, "follows", model.OpInsert, f.ID, followeeID, now)
	})
	if err != nil {
		return err
	}
	p.recountFollows(followerID, followeeID)
	return nil
}

func (p *Publisher) Unfollow(ctx context.Context, followerID, followeeID string) error {
	now := time.Now()
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f model.Follow
		err := tx.Where("follower_id = ? AND followee_id = ?", followerID, followeeID).First(&f).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&f).Error; err != nil {
			return err
		}
		return writeOutbox(tx, "follows", model.OpDelete, f.ID, followeeID, now)
	})
	if err != nil {
		return err
	}
	p.recountFollows(followerID, followeeID)
	return nil
}

// SendMessage 写消息并同步更新会话的 last_message_*，两者同一事务
func (p *Publisher) SendMessage(ctx context.Context, chatID, senderID, content string) (*model.Message, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	now := time.Now()
	msg := &model.Message{
		ID:          uuid.New().String(),
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		MessageType: "text",
		CreatedAt:   now.UnixMilli(),
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cnt int64
		if err := tx.Model(&model.ChatParticipant{}).
			Where("chat_id = ? AND user_id = ?", chatID, senderID).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt == 0 {
			return ErrNotParticipant
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Chat{}).Where("chat_id = ?", chatID).Updates(map[string]any{
			"last_message":        content,
			"last_message_time":   msg.CreatedAt,
			"last_message_sender": senderID,
		}).Error; err != nil {
			return err
		}
		return writeOutbox(tx, "messages", model.OpInsert, msg.ID, chatID, now)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (p *Publisher) recountPosts(uid string) {
	if p.counters != nil {
		p.counters.EnqueuePosts(uid)
	}
}

func (p *Publisher) recountFollows(followerID, followeeID string) {
	if p.counters != nil {
		p.counters.EnqueueFollows(followerID)
		p.counters.EnqueueFollows(followeeID)
	}
}
