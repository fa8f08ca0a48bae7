package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"bboard/internal/api/middleware"
	"bboard/internal/auth"
	"bboard/internal/board"
	"bboard/internal/database"
	"bboard/internal/notify"
)

// actstate 过滤条件。
const (
	actStateActivated = "activated"
	actStateThreeDays = "threedays"
	actStateWeek      = "week"
)

// AdminHandler 提供员工使用的用户与评论管理接口。分类管理见 RubricHandler。
type AdminHandler struct {
	DB         *gorm.DB
	Ads        *board.AdStore
	Comments   *board.CommentWorkflow
	activation activationSender
	now        func() time.Time
}

// NewAdminHandler 返回 AdminHandler 实例。
func NewAdminHandler(db *gorm.DB, ads *board.AdStore, comments *board.CommentWorkflow, authService *auth.AuthService, gateway notify.Gateway, siteURL string, notifyTimeout time.Duration) *AdminHandler {
	return &AdminHandler{
		DB:         db,
		Ads:        ads,
		Comments:   comments,
		activation: newActivationSender(authService, gateway, siteURL, notifyTimeout),
		now:        time.Now,
	}
}

// ListUsers 列出用户，支持 actstate 与 search 过滤。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	query := h.DB.WithContext(c.Request.Context()).Model(&database.User{})

	switch state := c.Query("actstate"); state {
	case "":
	case actStateActivated:
		query = query.Where("is_active = ? AND is_activated = ?", true, true)
	case actStateThreeDays, actStateWeek:
		cutoff := startOfDay(h.now()).AddDate(0, 0, -3)
		if state == actStateWeek {
			cutoff = startOfDay(h.now()).AddDate(0, 0, -7)
		}
		query = query.Where("is_active = ? AND is_activated = ? AND created_at < ?", false, false, cutoff)
	default:
		BadRequest(c, "unknown actstate")
		return
	}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := board.ContainsPattern(search)
		query = query.Where(
			`(LOWER(username) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\' OR LOWER(first_name) LIKE ? ESCAPE '\' OR LOWER(last_name) LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern, pattern,
		)
	}

	var users []database.User
	if err := query.Order("created_at DESC, id DESC").Find(&users).Error; err != nil {
		middleware.LoggerFromContext(c).Error("list users failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(u))
	}
	c.JSON(http.StatusOK, gin.H{"users": views})
}

type sendActivationRequest struct {
	IDs []uint `json:"ids" binding:"required,min=1"`
}

// SendActivation 向选中的未激活用户重新发送激活邮件，已激活的用户会被跳过。
func (h *AdminHandler) SendActivation(c *gin.Context) {
	var req sendActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	var users []database.User
	if err := h.DB.WithContext(ctx).
		Where("id IN ? AND is_activated = ?", req.IDs, false).
		Order("id").Find(&users).Error; err != nil {
		log.Error("load users for activation failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	sent := make([]uint, 0, len(users))
	failed := make([]uint, 0)
	for _, u := range users {
		if err := h.activation.send(ctx, u); err != nil {
			log.Warn("send activation failed", slog.Uint64("user_id", uint64(u.ID)), slog.Any("error", err))
			failed = append(failed, u.ID)
			continue
		}
		sent = append(sent, u.ID)
	}

	c.JSON(http.StatusOK, gin.H{"sent": sent, "failed": failed})
}

// DeleteUser 删除用户及其全部广告。
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid user id")
		return
	}
	if err := h.Ads.DeleteOwner(c.Request.Context(), id); err != nil {
		respondError(c, middleware.LoggerFromContext(c), err, "user")
		return
	}
	c.Status(http.StatusNoContent)
}

type moderateCommentRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// ModerateComment 切换评论的审核状态。
func (h *AdminHandler) ModerateComment(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid comment id")
		return
	}
	var req moderateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	comment, err := h.Comments.SetCommentActive(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		respondError(c, middleware.LoggerFromContext(c), err, "comment")
		return
	}
	c.JSON(http.StatusOK, newCommentView(*comment))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
