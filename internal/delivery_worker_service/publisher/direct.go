package publisher

import (
	"context"
	"log/slog"

	"github.com/credably/announcer/internal/core_announce/domain"
	"github.com/credably/announcer/internal/delivery_worker_service/adapters/channelgateway"
)

// DirectStrategy sends identical content to every channel concurrently.
type DirectStrategy struct {
	sender *channelSender
}

func NewDirectStrategy(gateways map[string]channelgateway.Gateway, cfg SenderConfig, logger *slog.Logger) *DirectStrategy {
	return &DirectStrategy{
		sender: &channelSender{
			gateways: gateways,
			config:   cfg,
			logger:   logger.With("strategy", "direct"),
		},
	}
}

func (s *DirectStrategy) Publish(ctx context.Context, req PublishRequest) *PublishResult {
	return fanOut(ctx, s.sender, req, func(ctx context.Context, channel string) domain.Content {
		return req.Content
	})
}
