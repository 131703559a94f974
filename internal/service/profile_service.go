package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

const avatarBaseURL = "https://api.dicebear.com/8.x/lorelei/svg?seed="

// ProfileInvalidator 资料变更后清理缓存
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, uids ...string) error
}

// UpdateProfileRequest 资料修改请求，空指针表示不修改
type UpdateProfileRequest struct {
	Username    *string `json:"username" validate:"omitempty,min=3,max=32,excludesall=@"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=64"`
	Bio         *string `json:"bio" validate:"omitempty,max=280"`
	Avatar      *string `json:"avatar" validate:"omitempty,url"`
}

// ProfileService 用户资料：首次登录建档、修改、头像路径
type ProfileService struct {
	repo     repository.ProfileRepository
	cache    ProfileInvalidator
	validate *validator.Validate
}

func NewProfileService(repo repository.ProfileRepository, cache ProfileInvalidator) *ProfileService {
	return &ProfileService{repo: repo, cache: cache, validate: validator.New()}
}

// Bootstrap 返回 uid 对应的资料；不存在时用认证元数据建一份待完善的资料
func (s *ProfileService) Bootstrap(ctx context.Context, uid, email, metaUsername string) (*model.Profile, bool, error) {
	p, err := s.repo.GetByUID(ctx, uid)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	username := metaUsername
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}
	if username == "" {
		username = "user_" + uid[:min(8, len(uid))]
	}
	bio := model.ProfileNeedsCompletion
	p = &model.Profile{
		ID:          uuid.New().String(),
		UID:         uid,
		Email:       email,
		Username:    username,
		DisplayName: username,
		Avatar:      avatarBaseURL + url.QueryEscape(username),
		Bio:         &bio,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, false, fmt.Errorf("bootstrap profile %s: %w", uid, err)
	}
	logger.Info("profile bootstrapped", zap.String("uid", uid), zap.String("username", username))
	return p, true, nil
}

func (s *ProfileService) Update(ctx context.Context, uid string, req UpdateProfileRequest) (*model.Profile, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	p, err := s.repo.Update(ctx, uid, repository.ProfileUpdate{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		Avatar:      req.Avatar,
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, uid); err != nil {
			logger.Warn("profile cache invalidate failed", zap.String("uid", uid), zap.Error(err))
		}
	}
	return p, nil
}

// AvatarObjectPath 头像在对象存储中的路径：<uid>/avatar.<ext>
func AvatarObjectPath(uid, filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s/avatar.%s", uid, ext)
}

// AvatarPublicURL 拼出带缓存破坏参数的公开地址
func AvatarPublicURL(base, objectPath string, now time.Time) string {
	return fmt.Sprintf("%s/%s?t=%d", strings.TrimRight(base, "/"), objectPath, now.UnixMilli())
}
