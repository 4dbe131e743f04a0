package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ghost-pen/config"
	"ghost-pen/providers"
)

const anthropicVersion = "2023-06-01"

var httpClient = &http.Client{Timeout: 120 * time.Second}

// Client implementiert das Provider-Interface für die Anthropic Messages API.
type Client struct {
	BaseURL string
	APIKey  string
	Logger  *zap.Logger
}

// NewClient erstellt einen neuen Anthropic-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		BaseURL: cfg.AnthropicBaseURL,
		APIKey:  cfg.AnthropicAPIKey,
		Logger:  logger,
	}
}

// Name gibt den Namen des Providers zurück.
func (c *Client) Name() string {
	return "anthropic"
}

// Generate führt genau einen Aufruf der Messages API aus.
func (c *Client) Generate(ctx context.Context, req providers.GenerationRequest) (*providers.Completion, error) {
	if c.APIKey == "" {
		return nil, &providers.RequestError{
			Provider: "anthropic",
			Message:  "ANTHROPIC_API_KEY is not configured",
			Code:     "AUTH_ERROR",
		}
	}

	body, err := json.Marshal(apiRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.SystemPrompt,
		Temperature: req.Temperature,
		Messages:    []message{{Role: "user", Content: req.UserPrompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyHTTPError(resp.StatusCode, respBody)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("anthropic returned no completion")
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &providers.Completion{
		Text:  strings.TrimSpace(text.String()),
		Model: apiResp.Model,
		Usage: providers.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}, nil
}

// classifyHTTPError trennt transiente Fehler (5xx, 429) von endgültigen
// Request-Fehlern, bei denen ein Retry zwecklos ist.
func (c *Client) classifyHTTPError(status int, body []byte) error {
	msg := string(body)
	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err == nil && apiResp.Error != nil {
		msg = apiResp.Error.Message
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("anthropic transient error (status %d): %s", status, msg)
	}

	code := "API_REQUEST_ERROR"
	if strings.Contains(strings.ToLower(msg), "credit balance is too low") {
		code = "BILLING_ERROR"
	} else if status == http.StatusUnauthorized || status == http.StatusForbidden {
		code = "AUTH_ERROR"
	}
	c.Logger.Error("Anthropic request rejected", zap.Int("status", status), zap.String("code", code))

	return &providers.RequestError{
		Provider:   "anthropic",
		StatusCode: status,
		Message:    fmt.Sprintf("anthropic request failed: %s", msg),
		Code:       code,
	}
}
