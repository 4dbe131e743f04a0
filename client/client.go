// Package client ist ein kleiner HTTP-Client für die Ghost-Pen-API,
// inklusive des Polling-Protokolls für asynchrone Generierungsjobs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ghost-pen/models"
	"ghost-pen/services"
)

// ErrPollTimeout meldet, dass der Job innerhalb des Versuchsbudgets nicht
// terminal wurde. Das ist kein fehlgeschlagener Job: der Server arbeitet
// möglicherweise noch.
var ErrPollTimeout = errors.New("job polling timed out")

// Client spricht die Ghost-Pen-API an.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	// PollInterval ist die Pause zwischen Status-Abfragen (Default 1s).
	PollInterval time.Duration
	// MaxPollAttempts begrenzt die Anzahl der Status-Abfragen (Default 90).
	MaxPollAttempts int
	// MaxTransportErrors ist die Anzahl aufeinanderfolgender Netzwerkfehler,
	// die beim Polling toleriert werden (Default 3).
	MaxTransportErrors int
}

// New erstellt einen Client mit den Standard-Polling-Parametern.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:            baseURL,
		APIKey:             apiKey,
		HTTP:               &http.Client{Timeout: 30 * time.Second},
		PollInterval:       time.Second,
		MaxPollAttempts:    90,
		MaxTransportErrors: 3,
	}
}

// GenerateRequest sind die Parameter eines Generierungsauftrags.
type GenerateRequest struct {
	Topic             string         `json:"topic"`
	PersonaSlug       string         `json:"persona"`
	SessionID         string         `json:"session_id,omitempty"`
	Speed             string         `json:"speed,omitempty"`
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
}

// APIError ist die Fehlerantwort des Servers.
type APIError struct {
	StatusCode int
	Err        services.ServiceError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.Err.Code, e.Err.Message)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-KEY", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error services.ServiceError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Err = envelope.Error
		} else {
			apiErr.Err = services.ServiceError{Code: services.CodeInternalError, Message: string(data)}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// StartGeneration stößt einen asynchronen Generierungsjob an.
func (c *Client) StartGeneration(ctx context.Context, req GenerateRequest) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := c.do(ctx, http.MethodPost, "/blog/generate", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobStatus fragt den Zustand eines Jobs ab.
func (c *Client) JobStatus(ctx context.Context, jobID uint) (*models.GenerationJob, error) {
	var job models.GenerationJob
	path := fmt.Sprintf("/blog/generate/status/%d", jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForJob pollt den Job, bis er terminal ist. Ein fehlgeschlagener Job ist
// ein normales Ergebnis (Status failed), kein Fehler; ErrPollTimeout kommt nur,
// wenn das Versuchsbudget erschöpft ist, während der Job noch läuft.
func (c *Client) WaitForJob(ctx context.Context, jobID uint) (*models.GenerationJob, error) {
	transportErrors := 0
	for attempt := 0; attempt < c.MaxPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.PollInterval):
			}
		}

		job, err := c.JobStatus(ctx, jobID)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				// Serverantwort, kein Netzwerkproblem: sofort aufgeben.
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transportErrors++
			if transportErrors > c.MaxTransportErrors {
				return nil, fmt.Errorf("polling job %d: %w", jobID, err)
			}
			continue
		}
		transportErrors = 0

		if job.Status.Terminal() {
			return job, nil
		}
	}
	return nil, ErrPollTimeout
}

// GetPost lädt einen Artikel.
func (c *Client) GetPost(ctx context.Context, id uint) (*models.BlogPost, error) {
	var post models.BlogPost
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/posts/%d", id), nil, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// GenerateAndWait ist die Komfortvariante: Job anstoßen, bis zum Abschluss
// pollen und den fertigen Artikel laden.
func (c *Client) GenerateAndWait(ctx context.Context, req GenerateRequest) (*models.BlogPost, error) {
	job, err := c.StartGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	done, err := c.WaitForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if done.Status == models.JobFailed {
		return nil, fmt.Errorf("generation job %d failed: %s", done.ID, done.ErrorMessage)
	}
	if done.BlogPostID == nil {
		return nil, fmt.Errorf("generation job %d completed without post", done.ID)
	}
	return c.GetPost(ctx, *done.BlogPostID)
}
