package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/credably/announcer/internal/core_announce/domain"
)

// MessageRepository is the message store port. All writes are individually
// atomic; no multi-message transactions are assumed by callers.
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)

	// Save persists the message row and its deliveries (used when a draft
	// is scheduled and the pending delivery set is created).
	Save(ctx context.Context, m *domain.Message) error

	// ClaimDue atomically transitions due messages from scheduled to
	// processing and returns the claimed batch. Concurrent schedulers
	// cannot claim the same message; messages claimed elsewhere are
	// silently excluded. Returns domain.ErrNoDueMessages when nothing
	// is due.
	ClaimDue(ctx context.Context, dueTime time.Time, limit int) ([]*domain.Message, error)

	// UpdateChannelDelivery writes a terminal per-channel result. The write
	// is a no-op when the delivery is already terminal, so redelivered
	// events cannot overwrite an earlier outcome.
	UpdateChannelDelivery(ctx context.Context, messageID uuid.UUID, delivery domain.ChannelDelivery) error

	// UpdateStatus performs a conditional status transition guarded by the
	// expected current status. Returns domain.ErrInvalidTransition when the
	// row is not in the expected state.
	UpdateStatus(ctx context.Context, messageID uuid.UUID, from, to domain.MessageStatus) error

	// RequeueStaleProcessing moves processing messages whose last update is
	// older than the cutoff back to scheduled, recovering messages whose
	// delivery event was never published or never completed.
	RequeueStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}
