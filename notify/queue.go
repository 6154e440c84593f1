package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/paykit/lang"
)

// QueueNotifications is the river queue for outbound mail.
const QueueNotifications = "notifications"

// EmailArgs is the payload of one queued notification.
type EmailArgs struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Language string `json:"language,omitempty"`
}

func (EmailArgs) Kind() string { return "entitlement_email" }

// InsertOpts bounds retries: notifications are best-effort, so a few
// attempts and then the job is dropped.
func (EmailArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueNotifications, MaxAttempts: 3}
}

// EmailWorker delivers queued notifications through the wrapped sender.
type EmailWorker struct {
	river.WorkerDefaults[EmailArgs]
	sender Sender
	log    logrus.FieldLogger
}

func (w *EmailWorker) Work(ctx context.Context, job *river.Job[EmailArgs]) error {
	if job.Args.Language != "" {
		ctx = lang.WithLanguage(ctx, job.Args.Language)
	}
	if err := w.sender.Send(ctx, job.Args.To, job.Args.Subject, job.Args.Body); err != nil {
		w.log.WithError(err).WithField("recipient", job.Args.To).Warn("notification delivery failed")
		return err
	}
	return nil
}

// NewRiverClient builds a river client with the email worker registered.
// The caller owns Start/Stop.
func NewRiverClient(pool *pgxpool.Pool, sender Sender, log logrus.FieldLogger) (*river.Client[pgx.Tx], error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, &EmailWorker{sender: sender, log: log}); err != nil {
		return nil, fmt.Errorf("notify: register email worker: %w", err)
	}
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  map[string]river.QueueConfig{QueueNotifications: {MaxWorkers: 4}},
		Workers: workers,
	})
}

// QueuedSender enqueues notifications for durable asynchronous delivery
// instead of sending inline.
type QueuedSender struct {
	client *river.Client[pgx.Tx]
}

func NewQueuedSender(client *river.Client[pgx.Tx]) *QueuedSender {
	return &QueuedSender{client: client}
}

func (s *QueuedSender) Send(ctx context.Context, recipient, subject, body string) error {
	language, _ := lang.LanguageFromContext(ctx)
	_, err := s.client.Insert(ctx, EmailArgs{To: recipient, Subject: subject, Body: body, Language: language}, nil)
	if err != nil {
		return fmt.Errorf("notify: enqueue notification: %w", err)
	}
	return nil
}
