package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/credably/announcer/internal/delivery_worker_service/publisher"
)

const redisKeyPrefix = "announcer:idem:"

type redisRecord struct {
	State  recordState              `json:"state"`
	Result *publisher.PublishResult `json:"result,omitempty"`
	Reason string                   `json:"reason,omitempty"`
}

// RedisGuard is the shared guard for horizontally scaled workers. SET NX
// with the lease TTL is the atomic insert-if-absent; terminal states
// overwrite the record with the retention TTL.
type RedisGuard struct {
	client    *redis.Client
	lease     time.Duration
	retention time.Duration
}

func NewRedisGuard(client *redis.Client, lease, retention time.Duration) *RedisGuard {
	return &RedisGuard{client: client, lease: lease, retention: retention}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, key string) (Acquisition, error) {
	inflight, err := json.Marshal(redisRecord{State: stateInFlight})
	if err != nil {
		return Acquisition{}, err
	}

	set, err := g.client.SetNX(ctx, redisKeyPrefix+key, inflight, g.lease).Result()
	if err != nil {
		return Acquisition{}, fmt.Errorf("idempotency acquire failed: %w", err)
	}
	if set {
		return Acquisition{State: Acquired}, nil
	}

	raw, err := g.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Record expired between SETNX and GET; treat as contended and
			// let the bus redeliver rather than race a second acquire.
			return Acquisition{State: Contended}, nil
		}
		return Acquisition{}, fmt.Errorf("idempotency read failed: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Acquisition{}, fmt.Errorf("idempotency record corrupt: %w", err)
	}

	switch rec.State {
	case stateCompleted:
		return Acquisition{State: AlreadyCompleted, Result: rec.Result}, nil
	case stateFailed:
		return Acquisition{State: AlreadyFailed, Reason: rec.Reason}, nil
	default:
		return Acquisition{State: Contended}, nil
	}
}

func (g *RedisGuard) Complete(ctx context.Context, key string, result *publisher.PublishResult) error {
	return g.finish(ctx, key, redisRecord{State: stateCompleted, Result: result})
}

func (g *RedisGuard) Fail(ctx context.Context, key string, reason string) error {
	return g.finish(ctx, key, redisRecord{State: stateFailed, Reason: reason})
}

// finish transitions in_flight to a terminal state. The guard script keeps a
// lease that expired mid-flight from resurrecting: only the current holder's
// in_flight record may be overwritten.
var finishScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if not cur then
		return 0
	end
	local rec = cjson.decode(cur)
	if rec.state ~= "in_flight" then
		return 0
	end
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
`)

func (g *RedisGuard) finish(ctx context.Context, key string, rec redisRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	n, err := finishScript.Run(ctx, g.client, []string{redisKeyPrefix + key}, payload, g.retention.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("idempotency finish failed: %w", err)
	}
	if n == 0 {
		return ErrUnknownKey
	}
	return nil
}
