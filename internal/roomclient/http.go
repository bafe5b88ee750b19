package roomclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-chessroom/internal/roomwire"
)

// HTTPClient reads the relay's REST surface: health and room snapshots.
type HTTPClient struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type HTTPOption func(*HTTPClient)

func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.defaultTimeout = d }
}

func WithHTTPRetry(max int) HTTPOption {
	return func(c *HTTPClient) { c.retryMax = max }
}

func WithHTTPHeaders(h HeaderProvider) HTTPOption {
	return func(c *HTTPClient) { c.headers = h }
}

func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPBase derives the relay's HTTP base from its WebSocket URL.
func HTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/ws")
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/")
}

// Health succeeds when the relay and its backing store are up.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.doJSON(ctx, "/healthz", nil, true)
}

// Room fetches the current record of room id.
func (c *HTTPClient) Room(ctx context.Context, id string) (*roomwire.Room, error) {
	var room roomwire.Room
	if err := c.doJSON(ctx, "/api/rooms/"+url.PathEscape(normalizeID(id)), &room, true); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, path string, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	attempts := 1
	if retry && c.retryMax > 0 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if out == nil {
					return nil
				}
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				return nil
			}
			lastErr = statusError(status, resp.Body())
			if !shouldRetryStatus(status) {
				return lastErr
			}
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(100*time.Millisecond, attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// statusError keeps the wire code when the relay sent one.
func statusError(status int, body []byte) error {
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Code != "" {
		return roomwire.FromCode(payload.Code, payload.Error)
	}
	if status == fasthttp.StatusServiceUnavailable {
		return roomwire.ErrNotReady
	}
	return fmt.Errorf("relay api error: status=%d body=%s", status, truncate(string(body), 512))
}

func (c *HTTPClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
