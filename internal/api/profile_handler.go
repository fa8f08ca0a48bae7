package api

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"bboard/internal/api/middleware"
	"bboard/internal/board"
	"bboard/internal/database"
)

// ProfileHandler 提供用户中心：个人信息、注销账号以及广告管理。
type ProfileHandler struct {
	DB       *gorm.DB
	Ads      *board.AdStore
	Listing  *board.Listing
	Uploader *imageUploader
	Presign  presigner
	Sessions *AuthHandler
}

// NewProfileHandler 返回 ProfileHandler 实例。
func NewProfileHandler(db *gorm.DB, ads *board.AdStore, listing *board.Listing, uploader *imageUploader, presign presigner, sessions *AuthHandler) *ProfileHandler {
	return &ProfileHandler{
		DB:       db,
		Ads:      ads,
		Listing:  listing,
		Uploader: uploader,
		Presign:  presign,
		Sessions: sessions,
	}
}

// Get 返回当前用户信息。
func (h *ProfileHandler) Get(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newUserView(*user))
}

type profileRequest struct {
	Username          string `json:"username" binding:"required,max=150"`
	Email             string `json:"email" binding:"required,email,max=254"`
	FirstName         string `json:"first_name" binding:"max=150"`
	LastName          string `json:"last_name" binding:"max=150"`
	SendNotifications *bool  `json:"send_notifications"`
}

// Update 修改用户信息与新评论提醒开关。
func (h *ProfileHandler) Update(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if fields, ok := bindingFields(err); ok {
			Unprocessable(c, fields, nil)
			return
		}
		BadRequest(c, err.Error())
		return
	}

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	req.Username = strings.TrimSpace(req.Username)

	if req.Username != user.Username {
		var taken int64
		if err := h.DB.WithContext(ctx).Model(&database.User{}).
			Where("username = ? AND id <> ?", req.Username, user.ID).
			Count(&taken).Error; err != nil {
			log.Error("profile username lookup failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		if taken > 0 {
			Unprocessable(c, map[string]string{"username": "a user with that username already exists"}, nil)
			return
		}
	}

	changes := map[string]any{
		"username":   req.Username,
		"email":      strings.TrimSpace(req.Email),
		"first_name": req.FirstName,
		"last_name":  req.LastName,
	}
	if req.SendNotifications != nil {
		changes["send_notifications"] = *req.SendNotifications
	}
	if err := h.DB.WithContext(ctx).Model(user).Updates(changes).Error; err != nil {
		log.Error("update profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var updated database.User
	if err := h.DB.WithContext(ctx).First(&updated, user.ID).Error; err != nil {
		log.Error("reload profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, newUserView(updated))
}

// DeleteConfirm 返回注销账号前的确认信息。
func (h *ProfileHandler) DeleteConfirm(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var ads int64
	if err := h.DB.WithContext(c.Request.Context()).Model(&database.Ad{}).
		Where("owner_id = ?", user.ID).Count(&ads).Error; err != nil {
		middleware.LoggerFromContext(c).Error("count ads failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":    newUserView(*user),
		"ads":     ads,
		"message": "deleting the account also deletes all of its ads, images and comments",
	})
}

// Delete 注销账号：级联删除广告后退出登录。
func (h *ProfileHandler) Delete(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	log := middleware.LoggerFromContext(c)

	if err := h.Ads.DeleteOwner(c.Request.Context(), userID); err != nil {
		respondError(c, log, err, "user")
		return
	}
	if err := h.Sessions.endSession(c); err != nil {
		log.Warn("end session after account deletion failed", slog.Any("error", err))
	}
	c.Status(http.StatusNoContent)
}

// ListAds 返回当前用户的全部广告。
func (h *ProfileHandler) ListAds(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	ads, err := h.Listing.ListByOwner(ctx, userID)
	if err != nil {
		respondError(c, log, err, "ads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ads": h.Presign.ads(ctx, log, ads)})
}

// GetAd 返回当前用户的一条广告。
func (h *ProfileHandler) GetAd(c *gin.Context) {
	ad, ok := h.ownedAd(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Presign.ad(c.Request.Context(), middleware.LoggerFromContext(c), *ad))
}

// CreateAd 发布广告，表单为 multipart：字段 + 主图 image + 多个附加图 images。
func (h *ProfileHandler) CreateAd(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	in, ok := h.bindAd(c, userID)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	ad, err := h.Ads.CreateAd(ctx, userID, in)
	if err != nil {
		h.Uploader.discard(ctx, log, uploadedKeys(in))
		respondError(c, log, err, "ad")
		return
	}
	log.Info("ad created", slog.Uint64("ad_id", uint64(ad.ID)))
	c.JSON(http.StatusCreated, h.Presign.ad(ctx, log, *ad))
}

// UpdateAd 修改广告；remove_image_ids 指定要删除的附加图。
func (h *ProfileHandler) UpdateAd(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	adID, ok := parseIDParam(c, "id")
	if !ok {
		NotFound(c, "ad not found")
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	if _, err := h.Ads.OwnedAd(ctx, userID, adID); err != nil {
		respondError(c, log, err, "ad")
		return
	}
	in, ok := h.bindAd(c, userID)
	if !ok {
		return
	}

	ad, err := h.Ads.UpdateAd(ctx, userID, adID, in)
	if err != nil {
		h.Uploader.discard(ctx, log, uploadedKeys(in))
		respondError(c, log, err, "ad")
		return
	}
	c.JSON(http.StatusOK, h.Presign.ad(ctx, log, *ad))
}

// DeleteAdConfirm 返回删除广告前的确认信息。
func (h *ProfileHandler) DeleteAdConfirm(c *gin.Context) {
	ad, ok := h.ownedAd(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ad":      h.Presign.ad(c.Request.Context(), middleware.LoggerFromContext(c), *ad),
		"message": "deleting the ad also deletes its images and comments",
	})
}

// DeleteAd 删除广告及其图片和评论。
func (h *ProfileHandler) DeleteAd(c *gin.Context) {
	ad, ok := h.ownedAd(c)
	if !ok {
		return
	}
	if err := h.Ads.DeleteAd(c.Request.Context(), ad.ID); err != nil {
		respondError(c, middleware.LoggerFromContext(c), err, "ad")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProfileHandler) currentUser(c *gin.Context) (*database.User, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	var user database.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Unauthorized(c)
			return nil, false
		}
		middleware.LoggerFromContext(c).Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	return &user, true
}

func (h *ProfileHandler) ownedAd(c *gin.Context) (*database.Ad, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	adID, ok := parseIDParam(c, "id")
	if !ok {
		NotFound(c, "ad not found")
		return nil, false
	}
	ad, err := h.Ads.OwnedAd(c.Request.Context(), userID, adID)
	if err != nil {
		respondError(c, middleware.LoggerFromContext(c), err, "ad")
		return nil, false
	}
	return ad, true
}

// bindAd 解析 multipart 表单并上传图片；字段或图片有误时直接返回 422。
func (h *ProfileHandler) bindAd(c *gin.Context, ownerID uint) (board.AdInput, bool) {
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	in, fields := parseAdForm(c)
	if len(fields) > 0 {
		Unprocessable(c, fields, nil)
		return in, false
	}

	var primary []*multipart.FileHeader
	var extras []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil && form != nil {
		primary = form.File["image"]
		extras = form.File["images"]
	}

	if len(primary) > 0 {
		key, err := h.Uploader.upload(ctx, ownerID, primary[0])
		if !h.uploadOK(c, log, err, "image") {
			return in, false
		}
		in.PrimaryImage = key
	}
	keys, err := h.Uploader.uploadAll(ctx, log, ownerID, extras)
	if !h.uploadOK(c, log, err, "images") {
		h.Uploader.discard(ctx, log, uploadedKeys(in))
		return in, false
	}
	in.ImageKeys = keys
	return in, true
}

func (h *ProfileHandler) uploadOK(c *gin.Context, log *slog.Logger, err error, field string) bool {
	if err == nil {
		return true
	}
	if msg, ok := uploadFieldError(err); ok {
		Unprocessable(c, map[string]string{field: msg}, nil)
		return false
	}
	log.Error("upload image failed", slog.Any("error", err))
	Internal(c, "failed to upload image")
	return false
}

func parseAdForm(c *gin.Context) (board.AdInput, map[string]string) {
	fields := map[string]string{}
	in := board.AdInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		ContactInfo: c.PostForm("contact_info"),
	}

	if raw := strings.TrimSpace(c.PostForm("rubric_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fields["rubric_id"] = "select a valid choice"
		}
		in.RubricID = uint(id)
	}
	if raw := strings.TrimSpace(c.PostForm("price")); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fields["price"] = "enter a number"
		} else {
			in.Price = &price
		}
	}
	if raw := strings.TrimSpace(c.PostForm("is_active")); raw != "" {
		active, err := parseCheckbox(raw)
		if err != nil {
			fields["is_active"] = "enter a valid boolean"
		} else {
			in.IsActive = &active
		}
	}
	for _, raw := range c.PostFormArray("remove_image_ids") {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			fields["remove_image_ids"] = "select a valid choice"
			continue
		}
		in.RemoveImageIDs = append(in.RemoveImageIDs, uint(id))
	}
	return in, fields
}

func parseCheckbox(raw string) (bool, error) {
	if strings.EqualFold(raw, "on") {
		return true, nil
	}
	return strconv.ParseBool(raw)
}

func uploadedKeys(in board.AdInput) []string {
	keys := make([]string, 0, len(in.ImageKeys)+1)
	if in.PrimaryImage != "" {
		keys = append(keys, in.PrimaryImage)
	}
	return append(keys, in.ImageKeys...)
}
