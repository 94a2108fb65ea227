package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"fundingflow/config"
	"fundingflow/logger"
)

// StatusError reports a non-2xx response that is not worth retrying.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client wraps a reused http.Client with a bounded retry policy. Transport
// failures, 429 and 5xx responses are retried with exponential backoff; any
// other non-2xx status fails immediately. A 429 is logged distinctly but
// consumes the same retry budget as any other transient failure.
type Client struct {
	name        string
	hc          *http.Client
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
	headers     map[string]string
	log         *logger.Log
}

// Browser-style headers; several exchange APIs serve anti-bot challenge
// pages to clients without them.
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-US,en;q=0.8",
	"Cache-Control":   "no-cache",
	"Pragma":          "no-cache",
}

// New builds a client with its own connection pool, reused across calls.
func New(name string, cfg config.HTTPConfig) *Client {
	return &Client{
		name:        name,
		hc:          &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		backoffMin:  cfg.BackoffMin,
		backoffMax:  cfg.BackoffMax,
		headers:     defaultHeaders,
		log:         logger.GetLogger(),
	}
}

// Get performs a GET with the optional query attached and returns the raw
// response body.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	target := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		target = rawURL + sep + query.Encode()
	}
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

// PostJSON performs a POST with a JSON-encoded body and returns the raw
// response body.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	b := &backoff.Backoff{
		Min:    c.backoffMin,
		Max:    c.backoffMax,
		Factor: 2,
		Jitter: true,
	}

	log := c.log.WithComponent(c.name + "_http")

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		for k, v := range c.headers {
			if req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			log.WithError(err).WithFields(logger.Fields{
				"url":     req.URL.String(),
				"attempt": attempt,
			}).Warn("request failed")
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				lastErr = &StatusError{Code: resp.StatusCode, Body: truncate(body)}
				log.WithFields(logger.Fields{
					"url":     req.URL.String(),
					"attempt": attempt,
				}).Warn("rate limit hit (429)")
			case resp.StatusCode >= 500:
				lastErr = &StatusError{Code: resp.StatusCode, Body: truncate(body)}
				log.WithFields(logger.Fields{
					"url":     req.URL.String(),
					"status":  resp.StatusCode,
					"attempt": attempt,
				}).Warn("server error, retrying")
			case resp.StatusCode >= 300:
				return nil, &StatusError{Code: resp.StatusCode, Body: truncate(body)}
			case readErr != nil:
				lastErr = readErr
			default:
				return body, nil
			}
		}

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

// LooksLikeHTML detects Cloudflare-style challenge pages returned in place
// of JSON. Callers treat such responses as "no data".
func LooksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 300 {
		head = head[:300]
	}
	snippet := strings.ToLower(string(head))
	return strings.Contains(snippet, "<!doctype") ||
		strings.Contains(snippet, "<html") ||
		strings.Contains(snippet, "just a moment") ||
		strings.Contains(snippet, "cf_chl_opt")
}
