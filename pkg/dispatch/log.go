package dispatch

import (
	"context"
	"errors"
	"log/slog"
)

var errNoRecipient = errors.New("empty recipient")

// LogDispatcher writes notifications to the log instead of delivering them.
// Default channel in development and when no gateway is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("module", "log_dispatcher")}
}

func (d *LogDispatcher) SendEmail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return Fatal(errNoRecipient)
	}

	d.logger.InfoContext(ctx, "email notification", "to", to, "subject", subject, "body", body)

	return nil
}

func (d *LogDispatcher) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return Fatal(errNoRecipient)
	}

	d.logger.InfoContext(ctx, "sms notification", "to", to, "body", body)

	return nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
