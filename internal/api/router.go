package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bboard/internal/api/middleware"
	"bboard/internal/config"
	"bboard/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎并挂载全局中间件、健康检查与指标端点。
func NewRouter(cfg *config.Config, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		gin.Recovery(),
		metrics.GinMiddleware(),
	)
	if len(cfg.API.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.API.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", middleware.CorrelationIDHeader},
			ExposeHeaders:    []string{middleware.CorrelationIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// routeGroups 返回 /v1 下的两个路由组，共用同一个令牌桶。
// stream 承载 WebSocket 长连接，不计入 max_in_flight；rest 承载其余接口并受并发上限约束。
// /health 与 /metrics 挂在组外，不限流。
func routeGroups(router *gin.Engine, cfg *config.Config) (stream, rest *gin.RouterGroup) {
	rateLimit := middleware.RateLimit(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst)
	stream = router.Group("/v1", rateLimit)
	rest = router.Group("/v1", rateLimit, middleware.ConcurrencyLimit(cfg.API.MaxInFlight))
	return stream, rest
}
