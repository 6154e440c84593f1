package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPSender delivers plain-text mail over SMTP with optional PLAIN auth.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Send delivers one message. net/smtp has no context support; the
// connection is bounded by the server's own timeouts, so callers should
// not hold locks across this call.
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, body string) error {
	_ = ctx
	if s.Host == "" || s.From == "" {
		return fmt.Errorf("notify: smtp sender not configured")
	}
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	if err := smtp.SendMail(addr, auth, s.From, []string{recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("notify: send mail to %s: %w", recipient, err)
	}
	return nil
}
