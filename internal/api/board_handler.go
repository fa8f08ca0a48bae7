package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bboard/internal/api/middleware"
	"bboard/internal/board"
	"bboard/internal/captcha"
)

const (
	maxCaptchaWidth  = 640
	maxCaptchaHeight = 320
)

// ChallengeImages 渲染验证码图片，*captcha.Store 满足该接口。
type ChallengeImages interface {
	WriteImage(ctx context.Context, w io.Writer, id string, width, height int) error
}

// BoardHandler 提供公开的浏览与评论接口。
type BoardHandler struct {
	Rubrics            *board.RubricService
	Listing            *board.Listing
	Comments           *board.CommentWorkflow
	Images             ChallengeImages
	Presign            presigner
	Counter            redisRateCounter
	LatestCount        int
	CommentRatePerHour int
}

// NewBoardHandler 返回 BoardHandler 实例。
func NewBoardHandler(
	rubrics *board.RubricService,
	listing *board.Listing,
	comments *board.CommentWorkflow,
	images ChallengeImages,
	storage ImageStorage,
	presignTTL time.Duration,
	counter redisRateCounter,
	latestCount int,
	commentRatePerHour int,
) *BoardHandler {
	return &BoardHandler{
		Rubrics:            rubrics,
		Listing:            listing,
		Comments:           comments,
		Images:             images,
		Presign:            presigner{storage: storage, ttl: presignTTL},
		Counter:            counter,
		LatestCount:        latestCount,
		CommentRatePerHour: commentRatePerHour,
	}
}

// Latest 返回最新发布的有效广告。
func (h *BoardHandler) Latest(c *gin.Context) {
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	ads, err := h.Listing.Latest(ctx, h.LatestCount)
	if err != nil {
		respondError(c, log, err, "ads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ads": h.Presign.ads(ctx, log, ads)})
}

// ListByCategory 返回子类下的广告分页，支持 keyword 关键字过滤。
func (h *BoardHandler) ListByCategory(c *gin.Context) {
	categoryID, ok := parseIDParam(c, "id")
	if !ok {
		NotFound(c, "rubric not found")
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	rubric, err := h.Rubrics.SubCategory(ctx, categoryID)
	if err != nil {
		respondError(c, log, err, "rubric")
		return
	}

	keyword := c.Query("keyword")
	page, err := h.Listing.ListByCategory(ctx, categoryID, keyword, board.ParsePage(c.Query("page")))
	if err != nil {
		respondError(c, log, err, "rubric")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rubric":  newRubricView(*rubric),
		"keyword": keyword,
		"page":    h.Presign.page(ctx, log, page),
	})
}

// AdDetail 返回广告详情、附加图片、已审核评论以及评论表单。
func (h *BoardHandler) AdDetail(c *gin.Context) {
	categoryID, adID, ok := adPathParams(c)
	if !ok {
		NotFound(c, "ad not found")
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	ad, err := h.Listing.PublicAd(ctx, categoryID, adID)
	if err != nil {
		respondError(c, log, err, "ad")
		return
	}
	comments, err := h.Comments.ActiveComments(ctx, ad.ID)
	if err != nil {
		respondError(c, log, err, "ad")
		return
	}
	form, err := h.Comments.Form(ctx, ad.ID, viewerFromContext(c))
	if err != nil {
		respondError(c, log, err, "ad")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ad":       h.Presign.ad(ctx, log, *ad),
		"comments": newCommentViews(comments),
		"form":     form,
	})
}

// PostComment 提交评论。校验失败返回 422，并附带保留输入的新表单。
func (h *BoardHandler) PostComment(c *gin.Context) {
	categoryID, adID, ok := adPathParams(c)
	if !ok {
		NotFound(c, "ad not found")
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	if overHourlyLimit(ctx, h.Counter, "comment", c.ClientIP(), h.CommentRatePerHour) {
		TooManyRequests(c)
		return
	}

	if _, err := h.Listing.PublicAd(ctx, categoryID, adID); err != nil {
		respondError(c, log, err, "ad")
		return
	}

	var in board.CommentInput
	if err := c.ShouldBind(&in); err != nil {
		BadRequest(c, err.Error())
		return
	}
	in.AdID = adID

	viewer := viewerFromContext(c)
	comment, err := h.Comments.Submit(ctx, viewer, in)
	if verr, ok := board.AsValidation(err); ok {
		form, ferr := h.Comments.Form(ctx, adID, viewer)
		if ferr != nil {
			respondError(c, log, ferr, "ad")
			return
		}
		if !form.AuthorLocked {
			form.Author = in.Author
		}
		form.Content = in.Content
		form.Errors = verr.Fields
		Unprocessable(c, verr.Fields, form)
		return
	}
	if err != nil {
		respondError(c, log, err, "ad")
		return
	}

	c.JSON(http.StatusCreated, newCommentView(*comment))
}

// Captcha 输出验证码 PNG 图片。
func (h *BoardHandler) Captcha(c *gin.Context) {
	width, _ := strconv.Atoi(c.Query("width"))
	height, _ := strconv.Atoi(c.Query("height"))
	if width > maxCaptchaWidth || height > maxCaptchaHeight {
		width, height = 0, 0
	}

	var buf bytes.Buffer
	err := h.Images.WriteImage(c.Request.Context(), &buf, c.Param("id"), width, height)
	if errors.Is(err, captcha.ErrNotFound) {
		NotFound(c, "captcha not found")
		return
	}
	if err != nil {
		middleware.LoggerFromContext(c).Error("render captcha failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func adPathParams(c *gin.Context) (uint, uint, bool) {
	categoryID, ok := parseIDParam(c, "id")
	if !ok {
		return 0, 0, false
	}
	adID, ok := parseIDParam(c, "adId")
	if !ok {
		return 0, 0, false
	}
	return categoryID, adID, true
}
