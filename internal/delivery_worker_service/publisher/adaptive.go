package publisher

import (
	"context"
	"log/slog"

	"github.com/credably/announcer/internal/core_announce/domain"
	"github.com/credably/announcer/internal/delivery_worker_service/adapters/adaptation"
	"github.com/credably/announcer/internal/delivery_worker_service/adapters/channelgateway"
)

// AdaptiveStrategy rewrites content per channel before sending. Adaptation
// runs inside each channel's fan-out task, so one channel's adaptation
// latency or failure never blocks another's. When adaptation fails the
// original content is sent instead; no channel is dropped because of it.
type AdaptiveStrategy struct {
	sender  *channelSender
	adapter adaptation.ContentAdapter
	logger  *slog.Logger
}

func NewAdaptiveStrategy(gateways map[string]channelgateway.Gateway, adapter adaptation.ContentAdapter, cfg SenderConfig, logger *slog.Logger) *AdaptiveStrategy {
	l := logger.With("strategy", "adaptive")
	return &AdaptiveStrategy{
		sender: &channelSender{
			gateways: gateways,
			config:   cfg,
			logger:   l,
		},
		adapter: adapter,
		logger:  l,
	}
}

func (s *AdaptiveStrategy) Publish(ctx context.Context, req PublishRequest) *PublishResult {
	return fanOut(ctx, s.sender, req, func(ctx context.Context, channel string) domain.Content {
		adapted, err := s.adapter.Adapt(ctx, channel, req.Content)
		if err != nil {
			s.logger.WarnContext(ctx, "Content adaptation failed, sending original content",
				"channel", channel, "error", err, "message_id", req.MessageID, "correlation_id", req.CorrelationID)
			return req.Content
		}
		return adapted
	})
}
