package notification

import (
	"context"
	"log/slog"
)

const (
	// KindSettlementCompleted reports a command that reached the ledger.
	KindSettlementCompleted = "settlement_completed"
	// KindSettlementFailed reports a command rejected during settlement.
	KindSettlementFailed = "settlement_failed"
)

// Message describes a notification payload.
type Message struct {
	Kind                 string
	RequestTransactionID string
	Destination          string
	Body                 string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"request_transaction_id", message.RequestTransactionID,
		"destination", message.Destination,
		"body", message.Body)
	return nil
}

// Recorder keeps every message in memory. Tests use it to assert on
// notifications.
type Recorder struct {
	Messages []Message
}

// Send implements Notifier.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.Messages = append(r.Messages, message)
	return nil
}
