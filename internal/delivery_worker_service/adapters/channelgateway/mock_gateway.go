package channelgateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// MockGateway is a stand-in for platforms without a configured endpoint.
// It logs the send and fabricates an external id.
type MockGateway struct {
	logger  *slog.Logger
	channel string

	// ShouldFail makes every send report a permanent failure, for local
	// testing of partial-outcome handling.
	ShouldFail bool
}

func NewMockGateway(logger *slog.Logger, channel string) *MockGateway {
	return &MockGateway{
		logger:  logger.With("gateway", channel+"-mock"),
		channel: channel,
	}
}

func (g *MockGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if g.ShouldFail {
		return &SendResult{Success: false, Error: "mock gateway configured to fail", Transient: false}, nil
	}
	externalID := fmt.Sprintf("mock-%s-%s", g.channel, uuid.NewString()[:8])
	g.logger.InfoContext(ctx, "Mock gateway delivered message",
		"message_id", req.MessageID, "external_id", externalID, "correlation_id", req.CorrelationID)
	return &SendResult{Success: true, ExternalID: externalID}, nil
}
