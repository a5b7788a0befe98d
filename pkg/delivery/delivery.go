// Package delivery provides email delivery implementations. The log
// delivery is the local-development default; real providers plug in behind
// protocol.Delivery.
package delivery

import (
	"context"
	"log/slog"

	"github.com/beaconcrm/journey/pkg/protocol"
	"github.com/google/uuid"
)

// SlogDelivery logs outbound email instead of sending it.
type SlogDelivery struct {
	logger *slog.Logger
}

// NewSlogDelivery creates a logging delivery.
func NewSlogDelivery(logger *slog.Logger) *SlogDelivery {
	return &SlogDelivery{
		logger: logger.With("module", "delivery"),
	}
}

// Send logs the message and reports success.
func (d *SlogDelivery) Send(_ context.Context, msg protocol.Message) (protocol.DeliveryResult, error) {
	messageID := uuid.New().String()

	d.logger.Info("Email delivered",
		"message_id", messageID,
		"to", msg.To,
		"subject", msg.Subject,
		"template_id", msg.TemplateID,
		"from", msg.FromEmail,
	)

	return protocol.DeliveryResult{MessageID: messageID}, nil
}
