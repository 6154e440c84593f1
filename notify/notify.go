// Package notify delivers user-facing messages. Delivery is best-effort
// and never part of the entitlement transaction: a failure after a
// successful claims write is logged, not surfaced.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/paykit/lang"
)

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogSender records messages in the log instead of delivering them.
// Used when no SMTP configuration is present.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Send(ctx context.Context, recipient, subject, body string) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	fields := logrus.Fields{"recipient": recipient, "subject": subject}
	if l, ok := lang.LanguageFromContext(ctx); ok {
		fields["language"] = l
	}
	log.WithFields(fields).Info("notification suppressed (no sender configured)")
	return nil
}
