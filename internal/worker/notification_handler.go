package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"bboard/internal/notify"
	"bboard/internal/tasks"
)

// Publisher 是 Redis Pub/Sub 发布端，*redis.Client 满足该接口。
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NotificationTaskHandler 消费通知任务：渲染并发送邮件，新评论额外推送到 WebSocket。
type NotificationTaskHandler struct {
	mailer    notify.Mailer
	publisher Publisher
	logger    *slog.Logger
}

// NewNotificationTaskHandler 创建任务处理器。
func NewNotificationTaskHandler(mailer notify.Mailer, publisher Publisher, logger *slog.Logger) *NotificationTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationTaskHandler{mailer: mailer, publisher: publisher, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *NotificationTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	msg := payload.Message

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("kind", string(msg.Kind)),
		slog.Uint64("user_id", uint64(msg.Recipient.UserID)),
	)

	subject, body, err := notify.Render(msg)
	if err != nil {
		log.Error("render notification failed", slog.Any("error", err))
		return fmt.Errorf("render notification: %v: %w", err, asynq.SkipRetry)
	}

	if msg.Kind == notify.KindNewComment && isFirstAttempt(ctx) {
		if err := h.publishComment(ctx, msg, payload.CorrelationID); err != nil {
			log.Warn("publish comment push failed", slog.Any("error", err))
		}
	}

	if msg.Recipient.Email == "" {
		log.Warn("recipient has no email, skipping mail")
		return nil
	}
	if err := h.mailer.Send(ctx, msg.Recipient.Email, subject, body); err != nil {
		log.Error("send notification mail failed", slog.Any("error", err))
		return err
	}

	log.Info("notification delivered")
	return nil
}

func (h *NotificationTaskHandler) publishComment(ctx context.Context, msg notify.Message, correlationID string) error {
	if h.publisher == nil {
		return nil
	}
	data, err := json.Marshal(CommentPushMessage{
		Event:         string(notify.KindNewComment),
		AdID:          msg.Comment.AdID,
		RubricID:      msg.Comment.RubricID,
		AdTitle:       msg.Comment.AdTitle,
		CommentID:     msg.Comment.CommentID,
		Author:        msg.Comment.Author,
		Content:       msg.Comment.Content,
		CorrelationID: correlationID,
	})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}
	return h.publisher.Publish(ctx, NotifyChannel(msg.Recipient.UserID), data).Err()
}

func isFirstAttempt(ctx context.Context) bool {
	retryCount, ok := asynq.GetRetryCount(ctx)
	return !ok || retryCount == 0
}

func uintToString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
