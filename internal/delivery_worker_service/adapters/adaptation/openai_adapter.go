package adaptation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/credably/announcer/internal/core_announce/domain"
)

const systemPrompt = `You rewrite announcement posts for a specific social or
notification channel. Keep the meaning, adjust tone and length to the
channel's conventions, and add hashtags only where the channel uses them.
Reply with the rewritten post text only.`

// OpenAIAdapter adapts content per channel through a chat completion call.
type OpenAIAdapter struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAIAdapter(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger.With("component", "openai_adapter"),
	}
}

// Adapt rewrites the body for the channel. The media reference is never
// touched; only text is adapted.
func (a *OpenAIAdapter) Adapt(ctx context.Context, channel string, content domain.Content) (domain.Content, error) {
	response, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf("Channel: %s\n\nPost:\n%s", channel, content.Body)),
		},
	})
	if err != nil {
		return domain.Content{}, fmt.Errorf("adaptation call failed for channel %s: %w", channel, err)
	}
	if len(response.Choices) == 0 {
		return domain.Content{}, fmt.Errorf("adaptation returned no choices for channel %s", channel)
	}

	adapted := strings.TrimSpace(response.Choices[0].Message.Content)
	if adapted == "" {
		return domain.Content{}, fmt.Errorf("adaptation returned empty content for channel %s", channel)
	}

	a.logger.DebugContext(ctx, "Adapted content for channel", "channel", channel, "original_len", len(content.Body), "adapted_len", len(adapted))
	return domain.Content{Body: adapted, MediaRef: content.MediaRef}, nil
}
