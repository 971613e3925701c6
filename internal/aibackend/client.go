// Package aibackend talks to the downstream analysis endpoint. The contract
// is at-least-once-until-terminal-reject: 2xx accepts, 4xx rejects finally,
// anything else is worth retrying.
package aibackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Picca1e-12/GenTestAI/internal/logging"
)

const userAgent = "GenTestAI-Watcher/1.0"

// Payload is the JSON body POSTed to /api/changes.
type Payload struct {
	UserID     int64  `json:"user_id"`
	FilePath   string `json:"file_path"`
	ChangeType string `json:"change_type"`
	PreviousV  string `json:"previousV"`
	CurrentV   string `json:"currentV"`
}

// ErrTerminalReject marks a client-error response; the change is abandoned
// and never retried.
var ErrTerminalReject = errors.New("ai backend rejected change")

// Health classifications returned by Client.Health.
const (
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
	StatusUnreachable = "unreachable"
)

type Options struct {
	Timeout     time.Duration // per-request; default 30s
	MaxAttempts int           // default 3
	BaseWait    time.Duration // first backoff; doubles per attempt; default 2s
	Logger      logging.Logger
}

type Client struct {
	baseURL     string
	http        *http.Client
	maxAttempts int
	baseWait    time.Duration
	log         logging.Logger
}

func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseWait <= 0 {
		opts.BaseWait = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Client{
		baseURL:     baseURL,
		http:        &http.Client{Timeout: opts.Timeout},
		maxAttempts: opts.MaxAttempts,
		baseWait:    opts.BaseWait,
		log:         opts.Logger,
	}
}

// Send posts p with retry and exponential backoff. It returns nil on
// acceptance, ErrTerminalReject (wrapped) on a 4xx, and the last transient
// failure once the attempt budget is exhausted.
func (c *Client) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	wait := c.baseWait
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrTerminalReject) {
			return lastErr
		}
		c.log.Warn("ai backend delivery failed",
			"attempt", attempt, "max_attempts", c.maxAttempts, "error", lastErr)
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait *= 2
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/changes", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post change: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", ErrTerminalReject, resp.StatusCode)
	default:
		return fmt.Errorf("ai backend returned status %d", resp.StatusCode)
	}
}

// Health probes GET /health with a bounded wait and classifies the backend.
func (c *Client) Health(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return StatusUnreachable
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StatusUnreachable
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return StatusHealthy
	}
	return StatusUnhealthy
}
