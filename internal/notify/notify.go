// Package notify delivers one-time codes to users. Delivery is
// fire-and-forget from the login flow's point of view: the auth service
// dispatches sends on their own goroutine and only logs failures.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

// Notifier sends a verification code to an identity.
type Notifier interface {
	Send(ctx context.Context, email, code string) error
}

// SMTPNotifier emails codes through a plain SMTP relay.
type SMTPNotifier struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTP(host string, port int, user, pass, from string) *SMTPNotifier {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}
	return &SMTPNotifier{
		addr: fmt.Sprintf("%s:%d", host, port),
		auth: auth,
		from: from,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, email, code string) error {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Your verification code\r\n\r\nYour verification code is: %s\r\n",
		n.from, email, code,
	)
	if err := smtp.SendMail(n.addr, n.auth, n.from, []string{email}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// LogNotifier writes codes to the log instead of sending them. Used when
// no SMTP relay is configured, which keeps local runs self-contained.
type LogNotifier struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, email, code string) error {
	n.log.Info("verification code issued",
		zap.String("email", email),
		zap.String("code", code),
	)
	return nil
}
