package board

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"bboard/internal/database"
)

const defaultPageSize = 2

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern 把关键字转为小写的 LIKE 子串模式，% 和 _ 按字面匹配，需配合 ESCAPE '\' 使用。
func ContainsPattern(keyword string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(keyword)) + "%"
}

// Listing 是只读的广告查询服务。
type Listing struct {
	db       *gorm.DB
	rubrics  *RubricService
	pageSize int
}

// NewListing 构造 Listing，pageSize 非正数时回落到 2。
func NewListing(db *gorm.DB, rubrics *RubricService, pageSize int) *Listing {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Listing{db: db, rubrics: rubrics, pageSize: pageSize}
}

// PageSize 返回分类列表使用的页大小。
func (l *Listing) PageSize() int { return l.pageSize }

// ListByCategory 返回子类下的有效广告，可按关键字过滤标题或描述（不区分大小写），按创建时间倒序分页。
func (l *Listing) ListByCategory(ctx context.Context, categoryID uint, keyword string, page int) (*Page[database.Ad], error) {
	if _, err := l.rubrics.SubCategory(ctx, categoryID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}

	query := l.db.WithContext(ctx).
		Model(&database.Ad{}).
		Where("rubric_id = ? AND is_active = ?", categoryID, true)
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		pattern := ContainsPattern(keyword)
		query = query.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`, pattern, pattern)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count ads of rubric %d: %w", categoryID, err)
	}

	var ads []database.Ad
	if offset := (page - 1) * l.pageSize; int64(offset) < total {
		if err := query.Session(&gorm.Session{}).
			Order("created_at DESC, id DESC").
			Limit(l.pageSize).
			Offset(offset).
			Find(&ads).Error; err != nil {
			return nil, fmt.Errorf("list ads of rubric %d: %w", categoryID, err)
		}
	}
	return newPage(ads, page, l.pageSize, total), nil
}

// ListByOwner 返回用户名下的全部广告，包括未激活的。
func (l *Listing) ListByOwner(ctx context.Context, userID uint) ([]database.Ad, error) {
	var ads []database.Ad
	if err := l.db.WithContext(ctx).
		Preload("Rubric.Parent").
		Where("owner_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&ads).Error; err != nil {
		return nil, fmt.Errorf("list ads of user %d: %w", userID, err)
	}
	return ads, nil
}

// Latest 返回最新的 n 条有效广告，用于首页。
func (l *Listing) Latest(ctx context.Context, n int) ([]database.Ad, error) {
	var ads []database.Ad
	if err := l.db.WithContext(ctx).
		Preload("Rubric.Parent").
		Where("is_active = ?", true).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&ads).Error; err != nil {
		return nil, fmt.Errorf("list latest ads: %w", err)
	}
	return ads, nil
}

// PublicAd 返回指定子类下的有效广告及附加图片；广告未激活或不属于该子类时返回 ErrNotFound。
func (l *Listing) PublicAd(ctx context.Context, categoryID, adID uint) (*database.Ad, error) {
	var ad database.Ad
	err := l.db.WithContext(ctx).
		Preload("Images", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		Preload("Rubric.Parent").
		Where("id = ? AND rubric_id = ? AND is_active = ?", adID, categoryID, true).
		First(&ad).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ad %d: %w", adID, err)
	}
	return &ad, nil
}
