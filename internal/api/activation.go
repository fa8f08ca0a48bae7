package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bboard/internal/auth"
	"bboard/internal/database"
	"bboard/internal/metrics"
	"bboard/internal/notify"
)

const activationPathPattern = "%s/v1/auth/activate/%s"

// activationSender 签发激活签名并通过通知网关发送激活邮件。
type activationSender struct {
	auth    *auth.AuthService
	gateway notify.Gateway
	siteURL string
	timeout time.Duration
}

func newActivationSender(authService *auth.AuthService, gateway notify.Gateway, siteURL string, timeout time.Duration) activationSender {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return activationSender{
		auth:    authService,
		gateway: gateway,
		siteURL: strings.TrimRight(siteURL, "/"),
		timeout: timeout,
	}
}

func (s activationSender) send(ctx context.Context, user database.User) error {
	sign, err := s.auth.SignActivation(user.ID, user.Username)
	if err != nil {
		return fmt.Errorf("sign activation: %w", err)
	}

	msg := notify.Message{
		Kind: notify.KindActivation,
		Recipient: notify.Recipient{
			UserID:    user.ID,
			Username:  user.Username,
			Email:     user.Email,
			FirstName: user.FirstName,
		},
		Activation: &notify.ActivationContext{Link: fmt.Sprintf(activationPathPattern, s.siteURL, sign)},
	}

	notifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.gateway.Notify(notifyCtx, msg)
	metrics.Notification(string(notify.KindActivation), err)
	return err
}
