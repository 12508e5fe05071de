// Package graph is the outbound client for the remote Graph API: the
// comment-replies sub-resource and the messaging resource.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Outbound failure taxonomy. Failures are surfaced to the dispatcher,
// logged, and never retried here.
var (
	ErrNetwork         = errors.New("graph: network error")
	ErrInvalidResponse = errors.New("graph: invalid response body")
)

// HTTPError is a non-2xx response from the Graph API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("graph: request failed with status %d: %s", e.Status, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL    string        // e.g. https://graph.facebook.com
	Version    string        // e.g. v21.0
	Timeout    time.Duration // per-request bound; zero means 8s
	RatePerSec float64       // outbound request rate; zero means 5/s
}

// Client posts outbound requests to the Graph API with a bounded
// per-request timeout and a shared rate limiter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewClient creates a Graph client with sane defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.facebook.com"
	}
	if opts.Version == "" {
		opts.Version = "v21.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    opts.BaseURL,
		version:    opts.Version,
		timeout:    opts.Timeout,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
	}
}

// SendPublicReply posts a reply under the given comment.
func (c *Client) SendPublicReply(ctx context.Context, commentID, message, accessToken string) error {
	if commentID == "" || message == "" || accessToken == "" {
		return fmt.Errorf("graph: missing fields for public reply")
	}
	endpoint := fmt.Sprintf("%s/%s/%s/replies", c.baseURL, c.version, url.PathEscape(commentID))
	body := map[string]string{
		"message":      message,
		"access_token": accessToken,
	}
	return c.postJSON(ctx, endpoint, body)
}

// SendPrivateMessage sends a direct message to the given user.
func (c *Client) SendPrivateMessage(ctx context.Context, userID, message, accessToken string) error {
	if userID == "" || message == "" || accessToken == "" {
		return fmt.Errorf("graph: missing fields for private message")
	}
	endpoint := fmt.Sprintf("%s/%s/me/messages", c.baseURL, c.version)
	body := map[string]any{
		"recipient":    map[string]string{"id": userID},
		"message":      map[string]string{"text": message},
		"access_token": accessToken,
	}
	return c.postJSON(ctx, endpoint, body)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, requestBody any) error {
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("graph: marshal request body: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(requestCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("graph: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Graph API request failed")
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Body: string(payload)}
	}

	// The API contract promises a JSON object back; anything else is
	// treated as a malformed response.
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	log.Debug().Str("endpoint", endpoint).Msg("Graph API request succeeded")
	return nil
}
