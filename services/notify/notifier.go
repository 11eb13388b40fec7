package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Notifier delivers operator-facing messages: task outcome digests and
// fallback transitions. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// LogNotifier writes notifications to the application log. It is the
// fallback channel when no external channel is configured, and runs alongside
// external channels so every notification leaves a local trace.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the message
func (n *LogNotifier) Notify(ctx context.Context, message string) error {
	n.logger.Info("notification", zap.String("message", message))
	return nil
}

// NopNotifier discards all notifications
type NopNotifier struct{}

// Notify does nothing
func (NopNotifier) Notify(ctx context.Context, message string) error {
	return nil
}

// MultiNotifier fans a notification out to every channel. Channels fail
// independently; the combined error carries every failure.
type MultiNotifier struct {
	channels []Notifier
}

// NewMultiNotifier creates a fan-out notifier over the given channels
func NewMultiNotifier(channels ...Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

// Notify delivers the message to every channel
func (n *MultiNotifier) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, ch := range n.channels {
		if err := ch.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
