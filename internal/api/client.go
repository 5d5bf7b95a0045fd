// Package api is the site's JSON request helper for its backend API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Impulse-Zero/python.github.io/internal/config"
	"github.com/Impulse-Zero/python.github.io/internal/logger"
)

// ErrorType is the application error type reported for failed requests
const ErrorType = "API Request Failed"

// maxErrorBody caps how much of a failed response is kept on the error
const maxErrorBody = 4 << 10

// StatusError is returned for responses outside the 2xx range
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// ErrorReporter receives every failed request before the error is returned
type ErrorReporter func(errType string, err error)

// Options configure a Client
type Options struct {
	BaseURL string
	Timeout time.Duration
	// Rate is the sustained number of requests per second; zero disables limiting
	Rate  float64
	Burst int
	// OnError is told about every failure
	OnError    ErrorReporter
	HTTPClient *http.Client
}

// OptionsFromConfig fills client options from cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Rate:    cfg.API.Rate,
		Burst:   cfg.API.Burst,
	}
}

// Client sends JSON requests to the API
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	onError    ErrorReporter
	logger     *logger.Logger
}

// NewClient creates a new API client
func NewClient(opts Options, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Get()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		limiter:    limiter,
		onError:    opts.OnError,
		logger:     log.Component("api"),
	}
}

// Get requests endpoint and decodes the response into out
func (c *Client) Get(ctx context.Context, endpoint string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, endpoint, nil, out)
}

// Post sends body as JSON to endpoint and decodes the response into out
func (c *Client) Post(ctx context.Context, endpoint string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, endpoint, body, out)
}

// Do sends a JSON request to endpoint, relative to the base URL. A non-2xx
// response yields a *StatusError. Every failure is reported to the error
// reporter and returned. out may be nil to discard the response body.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	err := c.do(ctx, method, endpoint, body, out)
	if err != nil {
		c.logger.Error("API request failed", map[string]interface{}{
			"method":   method,
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		if c.onError != nil {
			c.onError(ErrorType, err)
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	c.logger.Debug("Making API request", map[string]interface{}{
		"method": method,
		"url":    url,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
