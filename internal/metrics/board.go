package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commentsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bboard",
			Subsystem: "board",
			Name:      "comments_created_total",
			Help:      "成功创建的评论数量，按提交路径区分。",
		},
		[]string{"path"},
	)

	commentsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bboard",
			Subsystem: "board",
			Name:      "comments_rejected_total",
			Help:      "校验未通过的评论提交数量。",
		},
		[]string{"path"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bboard",
			Subsystem: "notify",
			Name:      "requests_total",
			Help:      "通知网关调用次数，按类型与结果区分。",
		},
		[]string{"kind", "result"},
	)

	imageCleanupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bboard",
			Subsystem: "storage",
			Name:      "image_cleanups_total",
			Help:      "图片文件清理次数。",
		},
		[]string{"result"},
	)

	uploadScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bboard",
			Subsystem: "storage",
			Name:      "upload_scans_total",
			Help:      "上传图片病毒扫描结果。",
		},
		[]string{"result"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bboard",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "缓存读取次数。",
		},
		[]string{"result"},
	)
)

// CommentCreated 记录一次成功的评论提交。
func CommentCreated(path string) { commentsCreatedTotal.WithLabelValues(path).Inc() }

// CommentRejected 记录一次被拒绝的评论提交。
func CommentRejected(path string) { commentsRejectedTotal.WithLabelValues(path).Inc() }

// Notification 记录通知网关调用结果。
func Notification(kind string, err error) {
	notificationsTotal.WithLabelValues(kind, outcome(err)).Inc()
}

// ImageCleanup 记录一次图片清理。
func ImageCleanup(err error) { imageCleanupsTotal.WithLabelValues(outcome(err)).Inc() }

// UploadScan 记录上传扫描结果：clean、infected 或 error。
func UploadScan(result string) { uploadScansTotal.WithLabelValues(result).Inc() }

// CacheLookup 记录缓存命中情况。
func CacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
