package channelgateway

import (
	"context"

	"github.com/credably/announcer/internal/core_announce/domain"
)

// SendRequest carries everything a gateway needs to deliver one message to
// one channel.
type SendRequest struct {
	MessageID     string
	Channel       string
	CorrelationID string
	Content       domain.Content
}

// SendResult is the structured outcome of a channel send. Transient marks
// errors worth retrying (rate limits, timeouts, 5xx); permanent errors
// (invalid recipient, content rejected, auth failure) are final.
type SendResult struct {
	Success    bool
	ExternalID string
	Error      string
	Transient  bool
}

// Gateway is the per-platform delivery port. Implementations return an error
// only for transport-level failures that never reached the platform; those
// are treated as transient. Platform-level rejections are reported in the
// SendResult.
type Gateway interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}
