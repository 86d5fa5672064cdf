package domain

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStatus represents the lifecycle state of an announcement message.
// Transitions are forward-only: draft -> scheduled -> processing -> delivered|failed.
type MessageStatus string

const (
	StatusDraft      MessageStatus = "draft"
	StatusScheduled  MessageStatus = "scheduled"
	StatusProcessing MessageStatus = "processing"
	StatusDelivered  MessageStatus = "delivered"
	StatusFailed     MessageStatus = "failed"
)

// DeliveryStatus is the per-channel outcome state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Content is the announcement payload. Immutable once the message is scheduled.
type Content struct {
	Body     string `json:"body"`
	MediaRef string `json:"media_ref,omitempty"`
}

// ChannelDelivery records the outcome of delivering a message to one channel.
// ExternalID and Error are mutually exclusive; once delivered or failed the
// record is immutable (terminal writes are no-ops at the repository).
type ChannelDelivery struct {
	Channel     string         `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	ExternalID  string         `json:"external_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	DeliveredAt sql.NullTime   `json:"delivered_at,omitempty"`
}

// Terminal reports whether the delivery reached a final state.
func (d ChannelDelivery) Terminal() bool {
	return d.Status == DeliveryDelivered || d.Status == DeliveryFailed
}

// Message is the schedulable unit of content delivered to one or more
// channels. Deliveries are keyed exactly by the channel set for the lifetime
// of the aggregate.
type Message struct {
	ID            uuid.UUID                  `json:"id"`
	Content       Content                    `json:"content"`
	Channels      []string                   `json:"channels"`
	ScheduledAt   time.Time                  `json:"scheduled_at"`
	Status        MessageStatus              `json:"status"`
	Deliveries    map[string]ChannelDelivery `json:"deliveries"`
	CorrelationID string                     `json:"correlation_id"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// NewMessage creates a draft message. CorrelationID originates from the
// upstream request and is threaded through the pipeline unmodified.
func NewMessage(id uuid.UUID, content Content, channels []string, correlationID string) (*Message, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	if seen := dedupe(channels); len(seen) != len(channels) {
		return nil, ErrDuplicateChannel
	}
	now := time.Now().UTC()
	return &Message{
		ID:            id,
		Content:       content,
		Channels:      channels,
		Status:        StatusDraft,
		Deliveries:    map[string]ChannelDelivery{},
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Schedule transitions a draft message to scheduled and initializes one
// pending ChannelDelivery per channel.
func (m *Message) Schedule(at time.Time) error {
	if m.Status != StatusDraft {
		return fmt.Errorf("%w: cannot schedule message in status %q", ErrInvalidTransition, m.Status)
	}
	m.ScheduledAt = at.UTC()
	m.Status = StatusScheduled
	m.Deliveries = make(map[string]ChannelDelivery, len(m.Channels))
	for _, ch := range m.Channels {
		m.Deliveries[ch] = ChannelDelivery{Channel: ch, Status: DeliveryPending}
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// CanTransition reports whether the status change moves forward in the
// lifecycle. Regressions are never allowed.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	allowed, ok := statusTransitions[s]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == next {
			return true
		}
	}
	return false
}

var statusTransitions = map[MessageStatus][]MessageStatus{
	StatusDraft:      {StatusScheduled},
	StatusScheduled:  {StatusProcessing},
	StatusProcessing: {StatusDelivered, StatusFailed, StatusScheduled}, // scheduled only via the stale sweep
	StatusDelivered:  {},
	StatusFailed:     {},
}

// AggregateStatus derives the overall message status from per-channel
// outcomes: delivered when at least one channel succeeded, failed only when
// every channel failed.
func AggregateStatus(deliveries map[string]ChannelDelivery) MessageStatus {
	anyDelivered := false
	for _, d := range deliveries {
		if d.Status == DeliveryDelivered {
			anyDelivered = true
			break
		}
	}
	if anyDelivered {
		return StatusDelivered
	}
	return StatusFailed
}

func dedupe(channels []string) map[string]struct{} {
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		seen[ch] = struct{}{}
	}
	return seen
}
