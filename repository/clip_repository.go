package repository

import (
	"context"
	"errors"

	"Pixmux/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClipRepository 片段库数据访问接口
type ClipRepository interface {
	Create(ctx context.Context, clip *model.Clip) error
	Upsert(ctx context.Context, clip *model.Clip) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Clip, error)
	GetByName(ctx context.Context, name string) (*model.Clip, error)
	GetByNames(ctx context.Context, names []string) ([]*model.Clip, error)
	List(ctx context.Context, source string, limit, offset int) ([]*model.Clip, error)
	Update(ctx context.Context, clip *model.Clip) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// gormClipRepository GORM 实现
type gormClipRepository struct {
	db *gorm.DB
}

// NewGormClipRepository 创建 GORM 片段仓库
func NewGormClipRepository(db *gorm.DB) ClipRepository {
	return &gormClipRepository{db: db}
}

// Create 创建片段，未设置 ID 时自动生成
func (r *gormClipRepository) Create(ctx context.Context, clip *model.Clip) error {
	if clip.ID == uuid.Nil {
		clip.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(clip).Error
}

// Upsert 按主键插入或更新
func (r *gormClipRepository) Upsert(ctx context.Context, clip *model.Clip) error {
	if clip.ID == uuid.Nil {
		clip.ID = uuid.New()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(clip).Error
}

// GetByID 根据ID获取片段，不存在时返回 nil
func (r *gormClipRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Clip, error) {
	var clip model.Clip
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&clip).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &clip, nil
}

// GetByName 根据名称获取片段
func (r *gormClipRepository) GetByName(ctx context.Context, name string) (*model.Clip, error) {
	var clip model.Clip
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&clip).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &clip, nil
}

// GetByNames 按给定名称顺序返回片段，缺失的名称被跳过
func (r *gormClipRepository) GetByNames(ctx context.Context, names []string) ([]*model.Clip, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var clips []*model.Clip
	if err := r.db.WithContext(ctx).Where("name IN ?", names).Find(&clips).Error; err != nil {
		return nil, err
	}
	return OrderByNames(clips, names), nil
}

// OrderByNames 按名称列表排序，重复名称重复引用同一片段
func OrderByNames(clips []*model.Clip, names []string) []*model.Clip {
	byName := make(map[string]*model.Clip, len(clips))
	for _, c := range clips {
		byName[c.Name] = c
	}
	out := make([]*model.Clip, 0, len(names))
	for _, n := range names {
		if c, ok := byName[n]; ok {
			out = append(out, c)
		}
	}
	return out
}

// List 分页列出片段，source 为空时不过滤
func (r *gormClipRepository) List(ctx context.Context, source string, limit, offset int) ([]*model.Clip, error) {
	query := r.db.WithContext(ctx).Model(&model.Clip{})
	if source != "" {
		query = query.Where("source = ?", source)
	}
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}

	var clips []*model.Clip
	err := query.Order("name ASC").Find(&clips).Error
	return clips, err
}

// Update 更新片段
func (r *gormClipRepository) Update(ctx context.Context, clip *model.Clip) error {
	return r.db.WithContext(ctx).Save(clip).Error
}

// Delete 删除片段
func (r *gormClipRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Clip{}).Error
}
