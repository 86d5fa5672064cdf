package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// DeliveryEvent is the wire payload the scheduler publishes onto the event
// bus, one per scheduling decision. The bus may redeliver it arbitrarily
// many times; the idempotency key makes reprocessing safe.
type DeliveryEvent struct {
	MessageID      string    `json:"message_id" validate:"required,uuid"`
	Channels       []string  `json:"channels" validate:"required,min=1,dive,required"`
	IdempotencyKey string    `json:"idempotency_key" validate:"required"`
	CorrelationID  string    `json:"correlation_id" validate:"required"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// NewDeliveryEvent builds the event for a claimed message.
func NewDeliveryEvent(m *Message) DeliveryEvent {
	return DeliveryEvent{
		MessageID:      m.ID.String(),
		Channels:       m.Channels,
		IdempotencyKey: IdempotencyKey(m.ID.String(), m.Channels),
		CorrelationID:  m.CorrelationID,
		EnqueuedAt:     time.Now().UTC(),
	}
}

// IdempotencyKey derives the deterministic key for a (message, channel set)
// unit of work. The channel list is sorted so ordering does not change the
// key; changing the channel set does, intentionally.
func IdempotencyKey(messageID string, channels []string) string {
	sorted := make([]string, len(channels))
	copy(sorted, channels)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(messageID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
