package adaptation

import (
	"context"

	"github.com/credably/announcer/internal/core_announce/domain"
)

// ContentAdapter rewrites announcement content for a specific channel
// (tone, length, hashtags). Failures are recoverable: the adaptive publisher
// falls back to the original content, so implementations should return an
// error rather than degraded output.
type ContentAdapter interface {
	Adapt(ctx context.Context, channel string, content domain.Content) (domain.Content, error)
}
