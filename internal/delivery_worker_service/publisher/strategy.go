package publisher

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/credably/announcer/internal/core_announce/domain"
	"github.com/credably/announcer/internal/delivery_worker_service/adapters/channelgateway"
)

// PublishRequest is one unit of fan-out work: deliver a message's content to
// every channel in the set.
type PublishRequest struct {
	MessageID     string
	CorrelationID string
	Content       domain.Content
	Channels      []string
}

// DeliveryResult is the terminal per-channel outcome of one publish attempt.
type DeliveryResult struct {
	Channel    string `json:"channel"`
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Transient  bool   `json:"transient,omitempty"`
}

// PublishResult aggregates per-channel outcomes for a publish request. It is
// cached by the idempotency guard, so it must round-trip through JSON.
type PublishResult struct {
	PerChannel map[string]DeliveryResult `json:"per_channel"`
}

// AnySuccess reports whether at least one channel was delivered.
func (r *PublishResult) AnySuccess() bool {
	for _, d := range r.PerChannel {
		if d.Success {
			return true
		}
	}
	return false
}

// Strategy decides what content each channel receives and performs the
// fan-out. Channel-level errors are captured into the result, never
// returned: a strategy invocation always produces one DeliveryResult per
// requested channel.
type Strategy interface {
	Publish(ctx context.Context, req PublishRequest) *PublishResult
}

// SenderConfig bounds an individual channel send.
type SenderConfig struct {
	// ChannelTimeout caps one send attempt so a slow platform cannot stall
	// the batch.
	ChannelTimeout time.Duration
	// ImmediateRetries is the number of in-invocation retries for clearly
	// transient errors (0-2). Anything beyond relies on bus redelivery.
	ImmediateRetries int
}

// channelSender is the per-channel send loop shared by both strategies:
// bounded timeout, immediate retries for transient errors with capped
// exponential backoff, uniform error classification.
type channelSender struct {
	gateways map[string]channelgateway.Gateway
	config   SenderConfig
	logger   *slog.Logger
}

func (s *channelSender) send(ctx context.Context, channel string, content domain.Content, req PublishRequest) DeliveryResult {
	gw, ok := s.gateways[channel]
	if !ok {
		return DeliveryResult{
			Channel: channel,
			Error:   "no gateway configured for channel",
		}
	}

	attempts := 1 + s.config.ImmediateRetries
	var last DeliveryResult
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff(attempt)):
			case <-ctx.Done():
				return last
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.config.ChannelTimeout)
		res, err := gw.Send(sendCtx, channelgateway.SendRequest{
			MessageID:     req.MessageID,
			Channel:       channel,
			CorrelationID: req.CorrelationID,
			Content:       content,
		})
		cancel()

		if err != nil {
			// Transport-level failure; classified transient.
			last = DeliveryResult{Channel: channel, Error: err.Error(), Transient: true}
			s.logger.WarnContext(ctx, "Channel send failed",
				"channel", channel, "attempt", attempt+1, "error", err,
				"message_id", req.MessageID, "correlation_id", req.CorrelationID)
			continue
		}

		if res.Success {
			return DeliveryResult{Channel: channel, Success: true, ExternalID: res.ExternalID}
		}

		last = DeliveryResult{Channel: channel, Error: res.Error, Transient: res.Transient}
		if !res.Transient {
			// Permanent rejection; retrying cannot help.
			return last
		}
		s.logger.WarnContext(ctx, "Channel send rejected transiently",
			"channel", channel, "attempt", attempt+1, "error", res.Error,
			"message_id", req.MessageID, "correlation_id", req.CorrelationID)
	}
	return last
}

// retryBackoff caps exponential backoff for immediate retries at one second;
// longer waits belong to the bus redelivery cycle, not this invocation.
func retryBackoff(attempt int) time.Duration {
	d := time.Duration(float64(100*time.Millisecond) * math.Pow(2, float64(attempt-1)))
	if d > time.Second {
		return time.Second
	}
	return d
}

// fanOut runs contentFor+send concurrently per channel and collects one
// result per channel. No partial short-circuit: a slow or failing channel
// never cancels the others.
func fanOut(ctx context.Context, sender *channelSender, req PublishRequest, contentFor func(ctx context.Context, channel string) domain.Content) *PublishResult {
	result := &PublishResult{PerChannel: make(map[string]DeliveryResult, len(req.Channels))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range req.Channels {
		channel := channel
		g.Go(func() error {
			content := contentFor(gctx, channel)
			res := sender.send(gctx, channel, content, req)

			mu.Lock()
			result.PerChannel[channel] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors; outcomes live in the result

	return result
}
