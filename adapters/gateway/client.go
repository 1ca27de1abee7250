package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rcie/domain/core"
	"rcie/internal"
	"rcie/internal/errors"
	"rcie/internal/session"

	"github.com/sony/gobreaker"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// Config holds client settings
type Config struct {
	BaseURL string
	Timeout time.Duration

	BreakerEnabled     bool
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// CallObserver receives one callback per completed gateway call.
type CallObserver interface {
	ObserveGatewayCall(op string, status int, duration time.Duration, err error)
}

// Client talks to the remote inference gateway over JSON/HTTP. It implements
// ports.InferenceGateway and ports.HistoryStore.
type Client struct {
	baseURL  string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *internal.Logger
	observer CallObserver
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *internal.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver registers a per-call observer, typically metrics.
func WithObserver(o CallObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a gateway client
func NewClient(config Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.ConfigInvalid("gateway base URL is required")
	}

	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: config.Timeout},
		logger:  internal.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if config.BreakerEnabled {
		maxFailures := config.BreakerMaxFailures
		if maxFailures == 0 {
			maxFailures = 5
		}
		logger := c.logger
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "inference-gateway",
			MaxRequests: 1,
			Timeout:     config.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("[Gateway] circuit breaker '%s' changed from %v to %v", name, from, to)
			},
			// Client errors are the caller's fault, not the service's.
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				status := errors.GetStatus(err)
				return status >= 400 && status < 500
			},
		})
	}
	return c, nil
}

// BaseURL returns the gateway root.
func (c *Client) BaseURL() string { return c.baseURL }

// postJSON sends in as JSON and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, op, path string, in, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "encode %s request", op)
	}
	return c.send(ctx, op, http.MethodPost, path, "application/json", raw, out)
}

// send executes one call through the circuit breaker when enabled.
func (c *Client) send(ctx context.Context, op, method, path, contentType string, body []byte, out interface{}) error {
	if c.breaker == nil {
		return c.roundTrip(ctx, op, method, path, contentType, body, out)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, contentType, body, out)
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("[Gateway] %s rejected: circuit breaker is %v", op, c.breaker.State())
		return errors.ExternalServiceError("gateway "+op, fmt.Errorf("%w: %v", core.ErrGatewayDegraded, err))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path, contentType string, body []byte, out interface{}) (err error) {
	requestID := core.NewRequestID()
	start := time.Now()
	status := 0
	defer func() {
		duration := time.Since(start)
		if c.observer != nil {
			c.observer.ObserveGatewayCall(op, status, duration, err)
		}
		if err != nil {
			c.logger.Debug("[Gateway] %s %s failed after %s (request %s): %v", method, path, duration, requestID, err)
			return
		}
		c.logger.Debug("[Gateway] %s %s -> %d in %s (request %s)", method, path, status, duration, requestID)
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s request", op)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID.String())
	if s, ok := session.FromContext(ctx); ok && s.Token() != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.ExternalServiceError("gateway "+op, fmt.Errorf("%w: %v", core.ErrRemote, err))
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.ExternalServiceError("gateway "+op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope errorResponse
		detail := ""
		if json.Unmarshal(raw, &envelope) == nil {
			detail = envelope.detailText()
		}
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return errors.RemoteStatus(op, resp.StatusCode, detail)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		if out != nil {
			return errors.ExternalServiceError("gateway "+op, fmt.Errorf("%w: empty response body", core.ErrRemote))
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.ExternalServiceError("gateway "+op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// remoteProtocolError reports a response that decoded but broke the contract.
func remoteProtocolError(op string, cause error) error {
	return errors.ExternalServiceError("gateway "+op, cause)
}
