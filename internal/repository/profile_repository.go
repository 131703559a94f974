package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

// ProfileUpdate 可修改的资料字段，nil 表示不修改
type ProfileUpdate struct {
	Username    *string
	DisplayName *string
	Bio         *string
	Avatar      *string
}

type ProfileRepository interface {
	Create(ctx context.Context, p *model.Profile) error
	GetByUID(ctx context.Context, uid string) (*model.Profile, error)
	// ListByUIDs 批量加载，结果顺序不保证；不存在的 uid 直接缺席
	ListByUIDs(ctx context.Context, uids []string) ([]*model.Profile, error)
	SearchByUsernamePrefix(ctx context.Context, prefix string, limit int) ([]*model.Profile, error)
	Update(ctx context.Context, uid string, upd ProfileUpdate) (*model.Profile, error)
	SetCounts(ctx context.Context, uid string, counts map[string]int64) error
}

type profileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) ProfileRepository { return &profileRepository{db: db} }

func (r *profileRepository) Create(ctx context.Context, p *model.Profile) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *profileRepository) GetByUID(ctx context.Context, uid string) (*model.Profile, error) {
	var p model.Profile
	err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepository) ListByUIDs(ctx context.Context, uids []string) ([]*model.Profile, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	var res []*model.Profile
	err := r.db.WithContext(ctx).Where("uid IN ?", uids).Find(&res).Error
	return res, err
}

func (r *profileRepository) SearchByUsernamePrefix(ctx context.Context, prefix string, limit int) ([]*model.Profile, error) {
	var res []*model.Profile
	pattern := escapeLike(strings.ToLower(prefix)) + "%"
	err := r.db.WithContext(ctx).
		Where(`LOWER(username) LIKE ? ESCAPE '\'`, pattern).
		Order("username").Limit(limit).Find(&res).Error
	return res, err
}

func (r *profileRepository) Update(ctx context.Context, uid string, upd ProfileUpdate) (*model.Profile, error) {
	fields := map[string]any{}
	if upd.Username != nil {
		fields["username"] = *upd.Username
	}
	if upd.DisplayName != nil {
		fields["display_name"] = *upd.DisplayName
	}
	if upd.Bio != nil {
		fields["bio"] = *upd.Bio
	}
	if upd.Avatar != nil {
		fields["avatar"] = *upd.Avatar
	}
	if len(fields) > 0 {
		res := r.db.WithContext(ctx).Model(&model.Profile{}).Where("uid = ?", uid).Updates(fields)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return r.GetByUID(ctx, uid)
}

func (r *profileRepository) SetCounts(ctx context.Context, uid string, counts map[string]int64) error {
	fields := make(map[string]any, len(counts))
	for k, v := range counts {
		fields[k] = v
	}
	return r.db.WithContext(ctx).Model(&model.Profile{}).Where("uid = ?", uid).Updates(fields).Error
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
