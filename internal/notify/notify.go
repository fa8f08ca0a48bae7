// Package notify 定义通知网关契约：激活邮件与新评论提醒。
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Kind 是通知类型。
type Kind string

const (
	KindActivation Kind = "activation"
	KindNewComment Kind = "new_comment"
)

// Recipient 是通知接收人。
type Recipient struct {
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
}

// DisplayName 优先使用名字，没有时退回用户名。
func (r Recipient) DisplayName() string {
	if r.FirstName != "" {
		return r.FirstName
	}
	return r.Username
}

// ActivationContext 是激活邮件所需的上下文。
type ActivationContext struct {
	Link string `json:"link"`
}

// CommentContext 描述触发提醒的新评论。
type CommentContext struct {
	CommentID uint   `json:"comment_id"`
	AdID      uint   `json:"ad_id"`
	RubricID  uint   `json:"rubric_id"`
	AdTitle   string `json:"ad_title"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Link      string `json:"link"`
}

// Message 是一次通知请求，Kind 决定使用哪个上下文字段。
type Message struct {
	Kind       Kind               `json:"kind"`
	Recipient  Recipient          `json:"recipient"`
	Activation *ActivationContext `json:"activation,omitempty"`
	Comment    *CommentContext    `json:"comment,omitempty"`
}

// Validate 检查 Kind 与上下文是否匹配。
func (m Message) Validate() error {
	if m.Recipient.UserID == 0 {
		return errors.New("notify: recipient user id is required")
	}
	switch m.Kind {
	case KindActivation:
		if m.Activation == nil {
			return errors.New("notify: activation context is required")
		}
	case KindNewComment:
		if m.Comment == nil {
			return errors.New("notify: comment context is required")
		}
	default:
		return fmt.Errorf("notify: unknown kind %q", m.Kind)
	}
	return nil
}

// Gateway 是通知协作方。实现必须可以异步完成，调用方不等待邮件真正送达。
type Gateway interface {
	Notify(ctx context.Context, msg Message) error
}

// GatewayFunc 让普通函数满足 Gateway。
type GatewayFunc func(ctx context.Context, msg Message) error

// Notify 实现 Gateway。
func (f GatewayFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }
