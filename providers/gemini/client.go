package gemini

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

var httpClient = &http.Client{Timeout: 120 * time.Second}

// Client implementiert das Provider-Interface für die Gemini generateContent API.
type Client struct {
	BaseURL string
	APIKey  string
	Logger  *zap.Logger
}

// NewClient erstellt einen neuen Gemini-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		BaseURL: cfg.GeminiBaseURL,
		APIKey:  cfg.GeminiAPIKey,
		Logger:  logger,
	}
}

// Name gibt den Namen des Providers zurück.
func (c *Client) Name() string {
	return "gemini"
}

// Generate führt genau einen Aufruf von generateContent aus.
func (c *Client) Generate(ctx context.Context, req providers.GenerationRequest) (*providers.Completion, error) {
	if c.APIKey == "" {
		return nil, &providers.RequestError{
			Provider: "gemini",
			Message:  "GEMINI_API_KEY is not configured",
			Code:     "AUTH_ERROR",
		}
	}

	payload := apiRequest{
		Contents:          []content{{Parts: []part{{Text: req.UserPrompt}}}},
		SystemInstruction: &content{Parts: []part{{Text: req.SystemPrompt}}},
	}
	payload.GenerationConfig.Temperature = req.Temperature
	payload.GenerationConfig.MaxOutputTokens = req.MaxTokens

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.BaseURL, req.Model, c.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
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
		return nil, fmt.Errorf("gemini API error: %s", apiResp.Error.Message)
	}

	var text strings.Builder
	for _, cand := range apiResp.Candidates {
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("gemini returned no completion")
	}

	return &providers.Completion{
		Text:  strings.TrimSpace(text.String()),
		Model: req.Model,
		Usage: providers.Usage{
			InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  apiResp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// classifyHTTPError trennt transiente Fehler von endgültigen. Quota- und
// Billing-Fehler gelten auch bei 429 als endgültig, weil ein kurzfristiger
// Retry dort nichts rettet.
func (c *Client) classifyHTTPError(status int, body []byte) error {
	msg := string(body)
	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err == nil && apiResp.Error != nil {
		msg = apiResp.Error.Message
	}
	lower := strings.ToLower(msg)

	quotaExhausted := strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "billing")

	if status == http.StatusTooManyRequests && quotaExhausted {
		return &providers.RequestError{
			Provider:   "gemini",
			StatusCode: status,
			Message:    "gemini quota exhausted: enable billing or use a key with available quota",
			Code:       "BILLING_ERROR",
		}
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("gemini transient error (status %d): %s", status, msg)
	}

	code := "API_REQUEST_ERROR"
	if strings.Contains(lower, "api key expired") || strings.Contains(lower, "api_key_invalid") {
		code = "AUTH_ERROR"
	} else if quotaExhausted {
		code = "BILLING_ERROR"
	}
	c.Logger.Error("Gemini request rejected", zap.Int("status", status), zap.String("code", code))

	return &providers.RequestError{
		Provider:   "gemini",
		StatusCode: status,
		Message:    fmt.Sprintf("gemini request failed: %s", msg),
		Code:       code,
	}
}
