// Package jobs contains background loops that run alongside the HTTP server.
// outbox_dispatcher.go drains the email outbox: messages are enqueued inside
// business transactions and delivered here, so a rolled-back registration
// never sends mail and an SMTP outage never fails a registration.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/memberbase/memberbase/internal/config"
	"github.com/memberbase/memberbase/internal/db/repositories"
	"github.com/memberbase/memberbase/internal/services"
	"github.com/memberbase/memberbase/internal/telemetry"
)

const dispatchBatchSize = 50

// OutboxDispatcher periodically delivers pending outbox messages. One
// dispatcher runs per process.
type OutboxDispatcher struct {
	outbox   *repositories.OutboxRepository
	sender   services.Sender
	cfg      *config.NotificationsConfig
	logger   *slog.Logger
	stopChan chan struct{}
	stopped  sync.Once
}

// NewOutboxDispatcher creates an OutboxDispatcher.
func NewOutboxDispatcher(
	outbox *repositories.OutboxRepository,
	sender services.Sender,
	cfg *config.NotificationsConfig,
	logger *slog.Logger,
) *OutboxDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxDispatcher{
		outbox:   outbox,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the dispatch loop. It runs one pass immediately, then repeats
// on the configured interval until ctx is cancelled or Stop is called. A no-op
// when notifications are disabled or SMTP is not configured, so it is always
// safe to start.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	if !d.cfg.Enabled {
		d.logger.Info("outbox dispatcher disabled", "reason", "notifications.enabled=false")
		return
	}
	if d.cfg.SMTP.Host == "" {
		d.logger.Info("outbox dispatcher disabled", "reason", "smtp host not configured")
		return
	}

	interval := d.cfg.OutboxPollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started", "interval", interval)
	d.dispatchOnce(ctx)

	for {
		select {
		case <-ticker.C:
			d.dispatchOnce(ctx)
		case <-d.stopChan:
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled")
			return
		}
	}
}

// Stop signals the dispatch loop to exit. Safe to call more than once.
func (d *OutboxDispatcher) Stop() {
	d.stopped.Do(func() { close(d.stopChan) })
}

// dispatchOnce claims a batch of pending messages and attempts delivery.
// Failures count against the message's attempt budget; a message that exhausts
// it is parked as failed for operator attention.
func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) {
	msgs, err := d.outbox.ClaimPending(ctx, dispatchBatchSize)
	if err != nil {
		d.logger.Error("outbox dispatcher failed to claim pending mail", "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	maxAttempts := d.cfg.OutboxMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}

		if err := d.sender.Send(msg.Recipient, msg.Subject, msg.Body); err != nil {
			d.logger.Warn("outbox delivery failed",
				"message_id", msg.ID, "attempts", msg.Attempts+1, "error", err)
			telemetry.OutboxEmailsTotal.WithLabelValues("failed").Inc()
			if err := d.outbox.MarkFailed(ctx, msg.ID, err, maxAttempts); err != nil {
				d.logger.Error("failed to record outbox failure", "message_id", msg.ID, "error", err)
			}
			continue
		}

		telemetry.OutboxEmailsTotal.WithLabelValues("sent").Inc()
		if err := d.outbox.MarkSent(ctx, msg.ID); err != nil {
			// The mail is out; a stale pending row means at worst a duplicate
			// delivery on the next pass.
			d.logger.Error("failed to mark outbox message sent", "message_id", msg.ID, "error", err)
		}
	}
}
