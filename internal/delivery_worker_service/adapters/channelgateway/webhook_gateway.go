package channelgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookGateway delivers announcements to a platform through a generic
// JSON-over-HTTP endpoint with bearer auth. One instance per channel.
type WebhookGateway struct {
	logger     *slog.Logger
	httpClient *http.Client
	channel    string
	apiURL     string
	apiToken   string
}

func NewWebhookGateway(logger *slog.Logger, channel, apiURL, apiToken string, httpClient *http.Client) *WebhookGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookGateway{
		logger:     logger.With("gateway", channel),
		httpClient: httpClient,
		channel:    channel,
		apiURL:     apiURL,
		apiToken:   apiToken,
	}
}

type webhookSendBody struct {
	MessageID     string `json:"message_id"`
	Body          string `json:"body"`
	MediaRef      string `json:"media_ref,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

type webhookSendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

func (g *WebhookGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	body := webhookSendBody{
		MessageID:     req.MessageID,
		Body:          req.Content.Body,
		MediaRef:      req.Content.MediaRef,
		CorrelationID: req.CorrelationID,
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiToken)

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		// Transport failure; never reached the platform.
		return nil, fmt.Errorf("failed to send webhook request: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		var resp webhookSendResponse
		if err := json.Unmarshal(respBytes, &resp); err != nil || resp.ID == "" {
			g.logger.WarnContext(ctx, "Webhook accepted send but response had no id",
				"status_code", httpResp.StatusCode, "message_id", req.MessageID, "correlation_id", req.CorrelationID)
			return &SendResult{Success: false, Error: "platform response missing external id", Transient: true}, nil
		}
		return &SendResult{Success: true, ExternalID: resp.ID}, nil
	}

	result := &SendResult{
		Success:   false,
		Error:     fmt.Sprintf("platform returned status %d: %s", httpResp.StatusCode, truncate(string(respBytes), 200)),
		Transient: httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500,
	}
	g.logger.WarnContext(ctx, "Webhook send rejected",
		"status_code", httpResp.StatusCode, "transient", result.Transient,
		"message_id", req.MessageID, "correlation_id", req.CorrelationID)
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
