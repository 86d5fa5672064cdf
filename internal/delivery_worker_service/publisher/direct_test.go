package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credably/announcer/internal/core_announce/domain"
	"github.com/credably/announcer/internal/delivery_worker_service/adapters/channelgateway"
)

// stubGateway records every send and replies from a scripted queue.
type stubGateway struct {
	mu       sync.Mutex
	requests []channelgateway.SendRequest
	results  []*channelgateway.SendResult
	errs     []error
}

func (g *stubGateway) Send(ctx context.Context, req channelgateway.SendRequest) (*channelgateway.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	i := len(g.requests) - 1
	if i >= len(g.results) {
		i = len(g.results) - 1
	}
	return g.results[i], g.errs[i]
}

func (g *stubGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func okGateway(externalID string) *stubGateway {
	return &stubGateway{
		results: []*channelgateway.SendResult{{Success: true, ExternalID: externalID}},
		errs:    []error{nil},
	}
}

func failingGateway(errMsg string, transient bool) *stubGateway {
	return &stubGateway{
		results: []*channelgateway.SendResult{{Success: false, Error: errMsg, Transient: transient}},
		errs:    []error{nil},
	}
}

func testSenderConfig() SenderConfig {
	return SenderConfig{ChannelTimeout: time.Second, ImmediateRetries: 1}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest(channels ...string) PublishRequest {
	return PublishRequest{
		MessageID:     "m1",
		CorrelationID: "corr-1",
		Content:       domain.Content{Body: "hello world"},
		Channels:      channels,
	}
}

func TestDirectStrategy_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("DeliversIdenticalContentToAllChannels", func(t *testing.T) {
		fb := okGateway("fb-1")
		li := okGateway("li-1")
		strategy := NewDirectStrategy(map[string]channelgateway.Gateway{
			"facebook": fb, "linkedin": li,
		}, testSenderConfig(), discardLogger())

		result := strategy.Publish(ctx, testRequest("facebook", "linkedin"))

		require.Len(t, result.PerChannel, 2)
		assert.True(t, result.PerChannel["facebook"].Success)
		assert.Equal(t, "fb-1", result.PerChannel["facebook"].ExternalID)
		assert.True(t, result.PerChannel["linkedin"].Success)
		assert.Equal(t, "hello world", fb.requests[0].Content.Body)
		assert.Equal(t, "hello world", li.requests[0].Content.Body)
	})

	t.Run("FailingChannelDoesNotAffectOthers", func(t *testing.T) {
		fb := okGateway("fb-1")
		li := failingGateway("rate_limited", true)
		strategy := NewDirectStrategy(map[string]channelgateway.Gateway{
			"facebook": fb, "linkedin": li,
		}, SenderConfig{ChannelTimeout: time.Second}, discardLogger())

		result := strategy.Publish(ctx, testRequest("facebook", "linkedin"))

		assert.True(t, result.PerChannel["facebook"].Success)
		assert.False(t, result.PerChannel["linkedin"].Success)
		assert.Equal(t, "rate_limited", result.PerChannel["linkedin"].Error)
		assert.True(t, result.PerChannel["linkedin"].Transient)
		assert.True(t, result.AnySuccess())
	})

	t.Run("TransientErrorRetriedThenSucceeds", func(t *testing.T) {
		gw := &stubGateway{
			results: []*channelgateway.SendResult{
				{Success: false, Error: "timeout", Transient: true},
				{Success: true, ExternalID: "fb-2"},
			},
			errs: []error{nil, nil},
		}
		strategy := NewDirectStrategy(map[string]channelgateway.Gateway{"facebook": gw}, testSenderConfig(), discardLogger())

		result := strategy.Publish(ctx, testRequest("facebook"))

		assert.True(t, result.PerChannel["facebook"].Success)
		assert.Equal(t, 2, gw.calls())
	})

	t.Run("PermanentErrorNotRetried", func(t *testing.T) {
		gw := failingGateway("invalid recipient", false)
		strategy := NewDirectStrategy(map[string]channelgateway.Gateway{"facebook": gw}, testSenderConfig(), discardLogger())

		result := strategy.Publish(ctx, testRequest("facebook"))

		assert.False(t, result.PerChannel["facebook"].Success)
		assert.False(t, result.PerChannel["facebook"].Transient)
		assert.Equal(t, 1, gw.calls())
	})

	t.Run("TransportErrorClassifiedTransient", func(t *testing.T) {
		gw := &stubGateway{
			results: []*channelgateway.SendResult{nil},
			errs:    []error{errors.New("connection refused")},
		}
		strategy := NewDirectStrategy(map[string]channelgateway.Gateway{"facebook": gw}, SenderConfig{ChannelTimeout: time.Second}, discardLogger())

		result := strategy.Publish(ctx, testRequest("facebook"))

		assert.False(t, result.PerChannel["facebook"].Success)
		assert.True(t, result.PerChannel["facebook"].Transient)
	})

	t.Run("UnknownChannelIsPermanentFailure", func(t *testing.T) {
		strategy := NewDirectStrategy(map[string]channelgateway.Gateway{}, testSenderConfig(), discardLogger())

		result := strategy.Publish(ctx, testRequest("myspace"))

		require.Contains(t, result.PerChannel, "myspace")
		assert.False(t, result.PerChannel["myspace"].Success)
		assert.False(t, result.PerChannel["myspace"].Transient)
	})

	t.Run("RetriesAreBounded", func(t *testing.T) {
		gw := failingGateway("rate_limited", true)
		strategy := NewDirectStrategy(map[string]channelgateway.Gateway{"facebook": gw},
			SenderConfig{ChannelTimeout: time.Second, ImmediateRetries: 2}, discardLogger())

		result := strategy.Publish(ctx, testRequest("facebook"))

		assert.False(t, result.PerChannel["facebook"].Success)
		assert.Equal(t, 3, gw.calls()) // initial attempt + 2 retries
	})
}
