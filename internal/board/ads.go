package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bboard/internal/database"
)

const maxTitleLen = 40

// ImageCleaner 删除对象存储中的图片文件。失败只记录日志，不中断删除流程。
type ImageCleaner interface {
	RemoveImage(ctx context.Context, key string) error
}

// AdInput 是创建/修改广告的表单数据。Price、IsActive 为空时使用默认值 0 和 true。
type AdInput struct {
	RubricID       uint     `json:"rubric_id" form:"rubric_id"`
	Title          string   `json:"title" form:"title"`
	Description    string   `json:"description" form:"description"`
	Price          *float64 `json:"price" form:"price"`
	ContactInfo    string   `json:"contact_info" form:"contact_info"`
	IsActive       *bool    `json:"is_active" form:"is_active"`
	PrimaryImage   string   `json:"-" form:"-"`
	ImageKeys      []string `json:"-" form:"-"`
	RemoveImageIDs []uint   `json:"remove_image_ids" form:"remove_image_ids"`
}

// AdStore 负责广告的持久化以及按固定顺序执行的级联删除。
type AdStore struct {
	db      *gorm.DB
	cleaner ImageCleaner
	logger  *slog.Logger
}

// NewAdStore 构造 AdStore。logger 为空时使用 slog.Default()。
func NewAdStore(db *gorm.DB, cleaner ImageCleaner, logger *slog.Logger) *AdStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdStore{db: db, cleaner: cleaner, logger: logger}
}

// CreateAd 为 ownerID 新建一条广告，附加图片在同一事务中写入。
func (s *AdStore) CreateAd(ctx context.Context, ownerID uint, in AdInput) (*database.Ad, error) {
	var ad database.Ad
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, ownerID); err != nil {
			return err
		}
		if err := validateAd(tx, &in); err != nil {
			return err
		}

		ad = database.Ad{
			RubricID:     in.RubricID,
			Title:        in.Title,
			Description:  in.Description,
			Price:        *in.Price,
			ContactInfo:  in.ContactInfo,
			PrimaryImage: in.PrimaryImage,
			OwnerID:      ownerID,
			IsActive:     *in.IsActive,
		}
		if err := tx.Omit(clause.Associations).Create(&ad).Error; err != nil {
			return fmt.Errorf("create ad: %w", err)
		}
		images, err := attachImages(tx, ad.ID, in.ImageKeys)
		if err != nil {
			return err
		}
		ad.Images = images
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ad, nil
}

// UpdateAd 修改 ownerID 名下的广告：可替换主图、追加附加图、删除选中的附加图。
// 被替换或删除的图片文件在事务提交后清理。
func (s *AdStore) UpdateAd(ctx context.Context, ownerID, adID uint, in AdInput) (*database.Ad, error) {
	var (
		updated  *database.Ad
		orphaned []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := findOwnedAd(tx, ownerID, adID)
		if err != nil {
			return err
		}
		if err := validateAd(tx, &in); err != nil {
			return err
		}

		changes := map[string]any{
			"rubric_id":    in.RubricID,
			"title":        in.Title,
			"description":  in.Description,
			"price":        *in.Price,
			"contact_info": in.ContactInfo,
			"is_active":    *in.IsActive,
		}
		if in.PrimaryImage != "" && in.PrimaryImage != current.PrimaryImage {
			changes["primary_image"] = in.PrimaryImage
			if current.PrimaryImage != "" {
				orphaned = append(orphaned, current.PrimaryImage)
			}
		}
		if err := tx.Model(&database.Ad{}).Where("id = ?", adID).Updates(changes).Error; err != nil {
			return fmt.Errorf("update ad %d: %w", adID, err)
		}

		if len(in.RemoveImageIDs) > 0 {
			var removed []database.AdditionalImage
			if err := tx.Where("ad_id = ? AND id IN ?", adID, in.RemoveImageIDs).
				Order("id").Find(&removed).Error; err != nil {
				return fmt.Errorf("load images of ad %d: %w", adID, err)
			}
			for _, img := range removed {
				if err := tx.Delete(&database.AdditionalImage{}, img.ID).Error; err != nil {
					return fmt.Errorf("delete image %d: %w", img.ID, err)
				}
				orphaned = append(orphaned, img.ImageKey)
			}
		}
		if _, err := attachImages(tx, adID, in.ImageKeys); err != nil {
			return err
		}

		updated, err = findOwnedAd(tx, ownerID, adID)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, key := range orphaned {
		s.cleanup(ctx, key)
	}
	return updated, nil
}

// OwnedAd 返回 ownerID 名下的广告及其附加图片；广告不存在或属于他人时都返回 ErrNotFound。
func (s *AdStore) OwnedAd(ctx context.Context, ownerID, adID uint) (*database.Ad, error) {
	return findOwnedAd(s.db.WithContext(ctx), ownerID, adID)
}

// DeleteAd 删除广告：先逐张删除附加图片并清理文件，再删除评论和广告本身，最后清理主图。
func (s *AdStore) DeleteAd(ctx context.Context, adID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ad database.Ad
		if err := tx.First(&ad, adID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get ad %d: %w", adID, err)
		}
		return s.deleteAd(ctx, tx, &ad)
	})
}

// DeleteOwner 删除用户：对其每条广告执行 DeleteAd 的级联，最后删除用户记录。
func (s *AdStore) DeleteOwner(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, userID); err != nil {
			return err
		}

		var ads []database.Ad
		if err := tx.Where("owner_id = ?", userID).Order("id").Find(&ads).Error; err != nil {
			return fmt.Errorf("list ads of user %d: %w", userID, err)
		}
		for i := range ads {
			if err := s.deleteAd(ctx, tx, &ads[i]); err != nil {
				return err
			}
		}

		if err := tx.Delete(&database.User{}, userID).Error; err != nil {
			return fmt.Errorf("delete user %d: %w", userID, err)
		}
		s.logger.InfoContext(ctx, "user deleted", slog.Uint64("user_id", uint64(userID)), slog.Int("ads", len(ads)))
		return nil
	})
}

func (s *AdStore) deleteAd(ctx context.Context, tx *gorm.DB, ad *database.Ad) error {
	var images []database.AdditionalImage
	if err := tx.Where("ad_id = ?", ad.ID).Order("id").Find(&images).Error; err != nil {
		return fmt.Errorf("load images of ad %d: %w", ad.ID, err)
	}
	for _, img := range images {
		if err := tx.Delete(&database.AdditionalImage{}, img.ID).Error; err != nil {
			return fmt.Errorf("delete image %d: %w", img.ID, err)
		}
		s.cleanup(ctx, img.ImageKey)
	}

	if err := tx.Where("ad_id = ?", ad.ID).Delete(&database.Comment{}).Error; err != nil {
		return fmt.Errorf("delete comments of ad %d: %w", ad.ID, err)
	}
	if err := tx.Delete(&database.Ad{}, ad.ID).Error; err != nil {
		return fmt.Errorf("delete ad %d: %w", ad.ID, err)
	}
	if ad.PrimaryImage != "" {
		s.cleanup(ctx, ad.PrimaryImage)
	}
	return nil
}

func (s *AdStore) cleanup(ctx context.Context, key string) {
	if s.cleaner == nil || key == "" {
		return
	}
	if err := s.cleaner.RemoveImage(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "image cleanup failed", slog.String("key", key), slog.Any("error", err))
	}
}

func findOwnedAd(db *gorm.DB, ownerID, adID uint) (*database.Ad, error) {
	var ad database.Ad
	err := db.
		Preload("Images", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		Preload("Rubric.Parent").
		Where("id = ? AND owner_id = ?", adID, ownerID).
		First(&ad).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ad %d: %w", adID, err)
	}
	return &ad, nil
}

func ensureUser(tx *gorm.DB, userID uint) error {
	n, err := countWhere(tx, &database.User{}, "id = ?", userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

func attachImages(tx *gorm.DB, adID uint, keys []string) ([]database.AdditionalImage, error) {
	images := make([]database.AdditionalImage, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		images = append(images, database.AdditionalImage{AdID: adID, ImageKey: key})
	}
	if len(images) == 0 {
		return images, nil
	}
	if err := tx.Create(&images).Error; err != nil {
		return nil, fmt.Errorf("attach images to ad %d: %w", adID, err)
	}
	return images, nil
}

// validateAd 规范化输入并填充默认值，所有字段错误一次性返回。
func validateAd(tx *gorm.DB, in *AdInput) error {
	verr := &ValidationError{}

	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.ContactInfo = strings.TrimSpace(in.ContactInfo)

	switch {
	case in.Title == "":
		verr.add("title", "this field is required")
	case utf8.RuneCountInString(in.Title) > maxTitleLen:
		verr.add("title", fmt.Sprintf("ensure this value has at most %d characters", maxTitleLen))
	}
	if in.Description == "" {
		verr.add("description", "this field is required")
	}
	if in.ContactInfo == "" {
		verr.add("contact_info", "this field is required")
	}

	if in.Price == nil {
		zero := 0.0
		in.Price = &zero
	}
	if math.IsNaN(*in.Price) || math.IsInf(*in.Price, 0) || *in.Price < 0 {
		verr.add("price", "ensure this value is greater than or equal to 0")
	}
	if in.IsActive == nil {
		active := true
		in.IsActive = &active
	}

	if in.RubricID == 0 {
		verr.add("rubric_id", "this field is required")
	} else {
		var rubric database.Rubric
		err := tx.Where("id = ? AND parent_id IS NOT NULL", in.RubricID).First(&rubric).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			verr.add("rubric_id", "select a valid sub-category")
		case err != nil:
			return fmt.Errorf("get rubric %d: %w", in.RubricID, err)
		}
	}

	return verr.orNil()
}
