package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/application/port"
)

const defaultTimeout = 30 * time.Second

// Config holds the voice provider credentials and callback address.
type Config struct {
	BaseURL    string
	APIKey     string
	FromNumber string
	WebhookURL string
	Timeout    time.Duration
}

// Client implements port.TelephonyProvider against the provider's REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new telephony client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// IsConfigured reports whether the provider credentials are present.
func (c *Client) IsConfigured() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != "" && c.cfg.FromNumber != ""
}

// apiError carries the provider's HTTP status so the retry classifier can
// distinguish transient failures from rejected requests.
type apiError struct {
	code int
	body string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telephony API error: status %d: %s", e.code, e.body)
}

func (e *apiError) StatusCode() int { return e.code }

type callPayload struct {
	To             string            `json:"to"`
	From           string            `json:"from"`
	Label          string            `json:"label,omitempty"`
	UserRequest    string            `json:"user_request"`
	Script         string            `json:"script"`
	TaskID         string            `json:"task_id"`
	StatusCallback string            `json:"status_callback"`
	Tone           string            `json:"tone,omitempty"`
	MaxPrice       *float64          `json:"max_price,omitempty"`
	Constraints    map[string]string `json:"constraints,omitempty"`
	Preferences    map[string]string `json:"preferences,omitempty"`
}

type callResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// MakeCall dials an outbound call and returns the provider's call id. The
// provider reports subsequent progress via the status callback URL.
func (c *Client) MakeCall(ctx context.Context, req port.CallRequest) (*port.CallPlacement, error) {
	payload := callPayload{
		To:             req.To,
		From:           c.cfg.FromNumber,
		Label:          req.Label,
		UserRequest:    req.UserRequest,
		Script:         req.Script,
		TaskID:         req.TaskID,
		StatusCallback: c.cfg.WebhookURL,
		Tone:           req.Context.Tone,
		MaxPrice:       req.Context.MaxPrice,
		Constraints:    req.Context.HardConstraints,
		Preferences:    req.Context.SoftPreferences,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal call payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.Debug("Placing outbound call",
		zap.String("to", req.To),
		zap.String("task_id", req.TaskID))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Provider rejected call",
			zap.Int("status", resp.StatusCode),
			zap.String("task_id", req.TaskID))
		return nil, &apiError{code: resp.StatusCode, body: string(respBody)}
	}

	var result callResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse provider response: %w", err)
	}
	if result.CallID == "" {
		return nil, fmt.Errorf("provider returned no call id")
	}

	c.logger.Info("Call placed",
		zap.String("provider_call_id", result.CallID),
		zap.String("status", result.Status),
		zap.String("task_id", req.TaskID))

	return &port.CallPlacement{
		ProviderCallID: result.CallID,
		Status:         result.Status,
	}, nil
}
