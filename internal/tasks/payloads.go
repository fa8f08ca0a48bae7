package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"bboard/internal/notify"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeNotifyActivation = "notify:activation"
	TypeNotifyNewComment = "notify:new_comment"
)

// NotificationPayload 是通知任务的载荷。
type NotificationPayload struct {
	Message       notify.Message `json:"message"`
	CorrelationID string         `json:"correlation_id"`
}

// TypeFor 返回通知类型对应的任务类型。
func TypeFor(kind notify.Kind) (string, error) {
	switch kind {
	case notify.KindActivation:
		return TypeNotifyActivation, nil
	case notify.KindNewComment:
		return TypeNotifyNewComment, nil
	default:
		return "", fmt.Errorf("no task type for notification kind %q", kind)
	}
}

// NewNotificationTask 构造一个新的通知任务。
func NewNotificationTask(msg notify.Message, correlationID string) (*asynq.Task, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	typename, err := TypeFor(msg.Kind)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(NotificationPayload{
		Message:       msg,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, payload), nil
}

type correlationIDKey struct{}

// WithCorrelationID 把 Correlation ID 放进 context，供入队时写入任务载荷。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID 从 context 中取出 Correlation ID。
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
