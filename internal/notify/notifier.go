// Package notify delivers operator alerts to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sender is one alert channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every sender. It implements domain.Alerter.
// Every alert is logged at error level even with no senders configured.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier over senders.
func NewNotifier(senders ...Sender) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  slog.Default().With("module", "notifier"),
	}
}

// Alert delivers to all senders. One failing sender does not stop the rest.
func (n *Notifier) Alert(ctx context.Context, title, message string) error {
	n.logger.Error("ALERT", slog.String("title", title), slog.String("message", message))

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("Alert delivery failed", slog.String("sender", s.Name()), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Senders returns the configured sender names.
func (n *Notifier) Senders() []string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	return names
}
