package service

import (
	"context"
	"errors"

	"github.com/d60-Lab/feedsync/internal/repository"
)

var (
	ErrFollowSelf = errors.New("cannot follow self")
)

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID string) error
	Unfollow(ctx context.Context, fromUserID, toUserID string) error
	IsFollowing(ctx context.Context, fromUserID, toUserID string) (bool, error)
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
	publisher  *Publisher
}

func NewRelationshipService(followRepo repository.FollowRepository, publisher *Publisher) RelationshipService {
	return &relationshipService{followRepo: followRepo, publisher: publisher}
}

func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	return s.publisher.Follow(ctx, fromUserID, toUserID)
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	return s.publisher.Unfollow(ctx, fromUserID, toUserID)
}

func (s *relationshipService) IsFollowing(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	return s.followRepo.Exists(ctx, fromUserID, toUserID)
}

func pageOffset(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return (page - 1) * pageSize, pageSize
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageOffset(page, pageSize)
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

func (s *relationshipService) ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageOffset(page, pageSize)
	items, err := s.followRepo.ListFans(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FollowerID
	}
	return res, nil
}
