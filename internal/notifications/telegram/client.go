// Package telegram is a minimal Telegram Bot API client: it sends relay
// notifications and dialogue replies and long-polls for incoming messages.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// defaultAPIURL is formatted with the bot token and the method name.
const defaultAPIURL = "https://api.telegram.org/bot%s/%s"

const (
	defaultRateLimit   = 25.0
	defaultPollTimeout = 30 * time.Second
	defaultRetryAfter  = time.Second
)

// Config holds telegram client configuration.
type Config struct {
	Enabled     bool
	BotToken    string
	APIURL      string
	RateLimit   float64
	PollTimeout time.Duration
}

// Client calls the Bot API. Outgoing messages share one rate limiter.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

// NewClient creates a new telegram client.
// Returns error if enabled but required config is missing.
func NewClient(config Config) (*Client, error) {
	if config.Enabled && config.BotToken == "" {
		return nil, errors.New("telegram client: bot token is required when enabled")
	}

	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaultPollTimeout
	}
	apiURL := config.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	slog.Info("telegram client configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
		"poll_timeout", config.PollTimeout,
	)

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.PollTimeout + 10*time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		apiURL:  apiURL,
	}, nil
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// call posts payload to method and decodes the result into out when non-nil.
// Rate-limited calls wait for the shared limiter first.
func (c *Client) call(ctx context.Context, method string, payload, out any, limited bool) error {
	if limited {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(c.apiURL, c.config.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", method, ctx.Err())
		}
		return &RetryableError{Code: 0, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(raw, &tgResp); err != nil {
		if resp.StatusCode >= 500 {
			return &RetryableError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return &PermanentError{Code: resp.StatusCode, Message: "malformed response"}
	}

	if !tgResp.OK {
		return classify(resp.StatusCode, tgResp)
	}

	if out != nil && len(tgResp.Result) > 0 {
		if err := json.Unmarshal(tgResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func classify(status int, resp telegramResponse) error {
	code := resp.ErrorCode
	if code == 0 {
		code = status
	}

	switch {
	case code == http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitError{RetryAfter: retryAfter, Message: resp.Description}
	case code == http.StatusUnauthorized:
		return &PermanentError{Code: code, Message: "invalid bot token"}
	case code >= 500:
		return &RetryableError{Code: code, Message: resp.Description}
	default:
		return &PermanentError{Code: code, Message: resp.Description}
	}
}
