package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notifyTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bboard",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "通知任务处理次数，按任务类型与结果区分（ok / retry / dropped）。",
		},
		[]string{"task_type", "result"},
	)

	notifyTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bboard",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "通知任务处理耗时（秒），主要是 SMTP 往返。",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"task_type"},
	)

	notifyTasksInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bboard",
			Subsystem: "worker",
			Name:      "tasks_in_progress",
			Help:      "当前正在处理的通知任务数量。",
		},
		[]string{"task_type"},
	)
)

// AsynqMetricsMiddleware 记录通知任务的处理结果与耗时。
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			taskType := task.Type()
			notifyTasksInProgress.WithLabelValues(taskType).Inc()
			defer notifyTasksInProgress.WithLabelValues(taskType).Dec()

			start := time.Now()
			err := next.ProcessTask(ctx, task)
			notifyTaskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
			notifyTasksTotal.WithLabelValues(taskType, taskResult(err)).Inc()
			return err
		})
	}
}

// taskResult 区分会被重试的失败和带 SkipRetry 直接丢弃的失败。
func taskResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, asynq.SkipRetry):
		return "dropped"
	default:
		return "retry"
	}
}
