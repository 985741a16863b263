// Package scraper submits jobs to the remote scraping service.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
	"github.com/ternarybob/scrapetrack/internal/httpclient"
)

const (
	maxResponseBytes = 32 * 1024 * 1024
	maxDetailBytes   = 512
)

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL    string
	SubmitPath string
	Timeout    time.Duration // Zero means no client-side limit beyond the caller's context
}

// ClientConfigFromCommon derives a client config from application config
func ClientConfigFromCommon(cfg *common.Config) ClientConfig {
	return ClientConfig{
		BaseURL:    cfg.Service.BaseURL,
		SubmitPath: cfg.Service.SubmitPath,
		Timeout:    cfg.RequestTimeout(),
	}
}

// Client performs single, non-retried job submissions
type Client struct {
	baseURL   string
	submitURL string
	client    *http.Client
	maxBody   int
	logger    arbor.ILogger
}

// NewClient creates a client for the service at cfg.BaseURL
func NewClient(cfg ClientConfig, logger arbor.ILogger) (*Client, error) {
	if logger == nil {
		logger = common.GetLogger()
	}

	submitPath := cfg.SubmitPath
	if submitPath == "" {
		submitPath = "/api"
	}
	submitURL, err := common.ResolveServiceURL(cfg.BaseURL, submitPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve submit url: %w", err)
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		submitURL: submitURL,
		client:    httpclient.NewDefaultHTTPClient(cfg.Timeout),
		maxBody:   maxResponseBytes,
		logger:    logger,
	}, nil
}

// SubmitURL returns the resolved submission endpoint
func (c *Client) SubmitURL() string {
	return c.submitURL
}

// BaseURL returns the service root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit posts target to the service and waits for the job's terminal response.
// Every failure is returned as *Error.
func (c *Client) Submit(ctx context.Context, target string) (*JobResponse, error) {
	payload, err := json.Marshal(SubmitRequest{URL: target})
	if err != nil {
		return nil, newInvalidResponseError("failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, bytes.NewReader(payload))
	if err != nil {
		return nil, newNetworkError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxBody)+1))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if len(body) > c.maxBody {
		return nil, newInvalidResponseError(fmt.Sprintf("response body exceeds %d bytes", c.maxBody), nil)
	}

	c.logger.Debug().
		Str("url", c.submitURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Str("duration", time.Since(start).String()).
		Msg("Submission settled")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newServiceError(resp.StatusCode, serviceDetail(body))
	}

	result, err := decodeJobResponse(body)
	if err != nil {
		return nil, newInvalidResponseError("failed to decode response", err)
	}
	return result, nil
}

// CheckHealth verifies the service answers HTTP requests
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return newNetworkError(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDetailBytes))

	// Any answer below 500 means the service is up, even without a root route
	if resp.StatusCode >= 500 {
		return newServiceError(resp.StatusCode, "service unhealthy")
	}
	return nil
}

func classifyTransportError(ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return newCancelledError(err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return newTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newTimeoutError(err)
	}
	return newNetworkError(err)
}

// serviceDetail extracts the server's own message from an error body
func serviceDetail(body []byte) string {
	var msg serviceMessage
	if err := json.Unmarshal(body, &msg); err == nil {
		if msg.Error != "" {
			return msg.Error
		}
		if msg.Message != "" {
			return msg.Message
		}
	}

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return "empty response body"
	}
	if len(detail) > maxDetailBytes {
		detail = detail[:maxDetailBytes] + "..."
	}
	return detail
}
