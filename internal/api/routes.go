package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"bboard/internal/api/middleware"
	"bboard/internal/auth"
	"bboard/internal/board"
	"bboard/internal/cache"
	"bboard/internal/config"
	"bboard/internal/notify"
)

// Captcha 是匿名评论验证码，*captcha.Store 满足该接口。
type Captcha interface {
	board.Challenge
	ChallengeImages
}

// Deps 汇总路由需要的外部依赖，由 cmd/api 组装。
type Deps struct {
	Config  *config.Config
	DB      *gorm.DB
	Auth    *auth.AuthService
	Redis   redis.UniversalClient
	Storage ImageStorage
	Scanner Scanner
	Captcha Captcha
	Gateway notify.Gateway
	Cache   *cache.Cache
	Logger  *slog.Logger
}

// RegisterRoutes 注册 /v1 下的全部业务路由。
func RegisterRoutes(router *gin.Engine, deps Deps) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rubrics := board.NewRubricService(deps.DB)
	listing := board.NewListing(deps.DB, rubrics, cfg.Board.PageSize)
	ads := board.NewAdStore(deps.DB, deps.Storage, logger)
	comments := board.NewCommentWorkflow(deps.DB, deps.Captcha, deps.Gateway, board.CommentOptions{
		NotifyTimeout: cfg.Notify.Timeout,
		SiteURL:       cfg.Board.SiteURL,
		Logger:        logger,
	})
	presign := presigner{storage: deps.Storage, ttl: cfg.Board.PresignTTL}
	uploader := &imageUploader{
		storage:  deps.Storage,
		scanner:  deps.Scanner,
		maxBytes: cfg.Board.MaxUploadBytes,
		allowed:  cfg.Board.AllowedImageTypes,
	}

	authHandler := NewAuthHandler(deps.DB, deps.Auth, deps.Redis, deps.Gateway, logger, AuthHandlerOptions{
		LoginRateLimitPerHour: cfg.Auth.LoginRateLimitPerHour,
		LoginLockThreshold:    cfg.Auth.LoginLockThreshold,
		LoginLockTTL:          cfg.Auth.LoginLockTTL,
		CookieDomain:          cfg.API.CookieDomain,
		SiteURL:               cfg.Board.SiteURL,
		NotifyTimeout:         cfg.Notify.Timeout,
	})
	rubricHandler := NewRubricHandler(rubrics, deps.Cache, cfg.Board.RubricCacheTTL)
	boardHandler := NewBoardHandler(rubrics, listing, comments, deps.Captcha, deps.Storage, cfg.Board.PresignTTL,
		deps.Redis, cfg.Board.LatestCount, cfg.Board.CommentRatePerHour)
	profileHandler := NewProfileHandler(deps.DB, ads, listing, uploader, presign, authHandler)
	adminHandler := NewAdminHandler(deps.DB, ads, comments, deps.Auth, deps.Gateway, cfg.Board.SiteURL, cfg.Notify.Timeout)
	wsHandler := NewWsHandler(deps.Redis, deps.Auth, cfg.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.Auth)
	optionalAuth := middleware.OptionalAuthMiddleware(deps.Auth)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	stream, v1 := routeGroups(router, cfg)
	stream.GET("/ws", wsHandler.HandleConnection)
	{
		v1.GET("/rubrics", rubricHandler.Tree)
		v1.GET("/ads/latest", boardHandler.Latest)
		v1.GET("/rubric/:id", boardHandler.ListByCategory)
		v1.GET("/rubric/:id/ad/:adId", optionalAuth, boardHandler.AdDetail)
		v1.POST("/rubric/:id/ad/:adId", optionalAuth, boardHandler.PostComment)
		v1.GET("/captcha/:id", boardHandler.Captcha)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.GET("/activate/:sign", authHandler.Activate)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authHandler.Logout)
		}

		profileGroup := v1.Group("/profile")
		profileGroup.Use(authMiddleware)
		{
			// 改密接口不受改密门禁限制。
			profileGroup.POST("/password", authHandler.ChangePassword)

			gated := profileGroup.Group("", passwordGate)
			gated.GET("", profileHandler.Get)
			gated.PUT("", profileHandler.Update)
			gated.GET("/delete", profileHandler.DeleteConfirm)
			gated.POST("/delete", profileHandler.Delete)
			gated.GET("/ads", profileHandler.ListAds)
			gated.POST("/ads", profileHandler.CreateAd)
			gated.GET("/ads/:id", profileHandler.GetAd)
			gated.PUT("/ads/:id", profileHandler.UpdateAd)
			gated.GET("/ads/:id/delete", profileHandler.DeleteAdConfirm)
			gated.POST("/ads/:id/delete", profileHandler.DeleteAd)
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(authMiddleware, passwordGate, middleware.RequireStaffMiddleware())
		{
			adminGroup.POST("/rubrics", rubricHandler.Create)
			adminGroup.PUT("/rubrics/:id", rubricHandler.Update)
			adminGroup.DELETE("/rubrics/:id", rubricHandler.Delete)
			adminGroup.GET("/users", adminHandler.ListUsers)
			adminGroup.POST("/users/send-activation", adminHandler.SendActivation)
			adminGroup.DELETE("/users/:id", adminHandler.DeleteUser)
			adminGroup.PATCH("/comments/:id", adminHandler.ModerateComment)
		}
	}
}
