package tasks

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"bboard/internal/notify"
)

// Enqueuer 是 *asynq.Client 的子集。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueGateway 把通知写入 asynq 队列，由 worker 异步投递。
type QueueGateway struct {
	client   Enqueuer
	maxRetry int
}

// NewQueueGateway 创建 QueueGateway。
func NewQueueGateway(client Enqueuer, maxRetry int) *QueueGateway {
	return &QueueGateway{client: client, maxRetry: maxRetry}
}

// Notify 实现 notify.Gateway：只负责入队，不等待发送结果。
func (g *QueueGateway) Notify(ctx context.Context, msg notify.Message) error {
	task, err := NewNotificationTask(msg, CorrelationID(ctx))
	if err != nil {
		return fmt.Errorf("build notification task: %w", err)
	}
	if _, err := g.client.EnqueueContext(ctx, task, asynq.MaxRetry(g.maxRetry)); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return nil
}
