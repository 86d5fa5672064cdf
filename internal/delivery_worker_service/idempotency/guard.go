package idempotency

import (
	"context"
	"errors"

	"github.com/credably/announcer/internal/delivery_worker_service/publisher"
)

// AcquireState is the outcome of a TryAcquire call.
type AcquireState int

const (
	// Acquired: the caller owns the key and must call Complete or Fail
	// exactly once, or let the lease expire on crash.
	Acquired AcquireState = iota
	// AlreadyCompleted: a prior attempt finished; the cached result is
	// returned and no channel may be invoked again.
	AlreadyCompleted
	// AlreadyFailed: a prior attempt failed terminally.
	AlreadyFailed
	// Contended: another worker holds the key in flight; do not process
	// and do not acknowledge, the bus will redeliver.
	Contended
)

// Acquisition carries the acquire outcome plus the cached terminal result
// when one exists.
type Acquisition struct {
	State  AcquireState
	Result *publisher.PublishResult // set when State == AlreadyCompleted
	Reason string                   // set when State == AlreadyFailed
}

// ErrUnknownKey is returned by Complete/Fail for a key that was never
// acquired or whose lease already expired.
var ErrUnknownKey = errors.New("idempotency key not held")

// Guard makes event processing safe under bus redelivery. TryAcquire must be
// atomic (insert-if-absent) against the backing store; in-flight records
// expire after a lease so a worker crash turns into an eventual retry
// instead of a stuck key. Terminal records are retained for a bounded
// window, a deliberate tradeoff between dedupe coverage and storage.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (Acquisition, error)
	Complete(ctx context.Context, key string, result *publisher.PublishResult) error
	Fail(ctx context.Context, key string, reason string) error
}
