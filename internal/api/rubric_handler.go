package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bboard/internal/api/middleware"
	"bboard/internal/board"
	"bboard/internal/cache"
)

const rubricTreeCacheKey = "rubrics:tree"

// RubricHandler 提供导航菜单与员工的分类管理接口。
type RubricHandler struct {
	rubrics  *board.RubricService
	cache    *cache.Cache
	cacheTTL time.Duration
}

// NewRubricHandler 构造分类处理器；cache 为空时每次直接查库。
func NewRubricHandler(rubrics *board.RubricService, c *cache.Cache, cacheTTL time.Duration) *RubricHandler {
	return &RubricHandler{rubrics: rubrics, cache: c, cacheTTL: cacheTTL}
}

// Tree 返回两级分类树。
func (h *RubricHandler) Tree(c *gin.Context) {
	tree, err := h.tree(c.Request.Context())
	if err != nil {
		middleware.LoggerFromContext(c).Error("load rubric tree failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rubrics": tree})
}

func (h *RubricHandler) tree(ctx context.Context) ([]board.RubricNode, error) {
	if h.cache == nil {
		return h.rubrics.Tree(ctx)
	}
	return cache.GetOrLoadJSON(h.cache, ctx, rubricTreeCacheKey, h.cacheTTL, h.rubrics.Tree)
}

// Create 新建分类。
func (h *RubricHandler) Create(c *gin.Context) {
	var in board.RubricInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err.Error())
		return
	}

	rubric, err := h.rubrics.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, middleware.LoggerFromContext(c), err, "rubric")
		return
	}
	h.invalidate(c)
	c.JSON(http.StatusCreated, newRubricView(*rubric))
}

// Update 修改分类。
func (h *RubricHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid rubric id")
		return
	}
	var in board.RubricInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err.Error())
		return
	}

	rubric, err := h.rubrics.Update(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, middleware.LoggerFromContext(c), err, "rubric")
		return
	}
	h.invalidate(c)
	c.JSON(http.StatusOK, newRubricView(*rubric))
}

// Delete 删除分类；仍有子类或广告时返回 409。
func (h *RubricHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid rubric id")
		return
	}

	if err := h.rubrics.Delete(c.Request.Context(), id); err != nil {
		respondError(c, middleware.LoggerFromContext(c), err, "rubric")
		return
	}
	h.invalidate(c)
	c.Status(http.StatusNoContent)
}

func (h *RubricHandler) invalidate(c *gin.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(c.Request.Context(), rubricTreeCacheKey); err != nil {
		middleware.LoggerFromContext(c).Warn("invalidate rubric tree failed", slog.Any("error", err))
	}
}
