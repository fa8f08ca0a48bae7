package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bboard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时分布（秒），按路由模板统计。",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route", "class"},
	)

	httpResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bboard",
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "HTTP 响应数量，按路由与状态码统计。",
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bboard",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量。",
		},
	)
)

// GinMiddleware 采集每个请求的耗时与状态码。
// 未匹配路由统一记为 "unmatched"，避免扫描请求撑爆标签基数。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		httpDuration.WithLabelValues(c.Request.Method, route, statusClass(status)).Observe(time.Since(start).Seconds())
		httpResponses.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
