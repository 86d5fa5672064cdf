package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/credably/announcer/internal/delivery_worker_service/publisher"
)

type recordState string

const (
	stateInFlight  recordState = "in_flight"
	stateCompleted recordState = "completed"
	stateFailed    recordState = "failed"
)

type memoryRecord struct {
	state     recordState
	result    *publisher.PublishResult
	reason    string
	expiresAt time.Time
}

// MemoryGuard is a process-local guard. It only protects against duplicate
// processing within one worker instance; horizontally scaled workers need
// the Redis guard.
type MemoryGuard struct {
	mu        sync.Mutex
	records   map[string]memoryRecord
	lease     time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewMemoryGuard(lease, retention time.Duration) *MemoryGuard {
	return &MemoryGuard{
		records:   map[string]memoryRecord{},
		lease:     lease,
		retention: retention,
		now:       time.Now,
	}
}

func (g *MemoryGuard) TryAcquire(ctx context.Context, key string) (Acquisition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if rec, ok := g.records[key]; ok && now.Before(rec.expiresAt) {
		switch rec.state {
		case stateCompleted:
			return Acquisition{State: AlreadyCompleted, Result: rec.result}, nil
		case stateFailed:
			return Acquisition{State: AlreadyFailed, Reason: rec.reason}, nil
		default:
			return Acquisition{State: Contended}, nil
		}
	}

	g.records[key] = memoryRecord{state: stateInFlight, expiresAt: now.Add(g.lease)}
	g.gc(now)
	return Acquisition{State: Acquired}, nil
}

func (g *MemoryGuard) Complete(ctx context.Context, key string, result *publisher.PublishResult) error {
	return g.finish(key, memoryRecord{state: stateCompleted, result: result})
}

func (g *MemoryGuard) Fail(ctx context.Context, key string, reason string) error {
	return g.finish(key, memoryRecord{state: stateFailed, reason: reason})
}

func (g *MemoryGuard) finish(key string, rec memoryRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cur, ok := g.records[key]
	if !ok || cur.state != stateInFlight || !now.Before(cur.expiresAt) {
		return ErrUnknownKey
	}
	rec.expiresAt = now.Add(g.retention)
	g.records[key] = rec
	return nil
}

// gc drops expired records. Called under the lock on every acquire; the
// record count is bounded by the retention window.
func (g *MemoryGuard) gc(now time.Time) {
	for k, rec := range g.records {
		if !now.Before(rec.expiresAt) {
			delete(g.records, k)
		}
	}
}
