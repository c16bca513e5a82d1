// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultMaxBodyBytes caps how much of a vendor response body is kept.
const DefaultMaxBodyBytes = 64 << 10

type Client struct {
	httpClient   *http.Client
	maxBodyBytes int64
}

// NewClient builds a client whose requests are bounded by timeout in addition to any
// context deadline.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Response is a vendor reply with its body truncated to the client limit.
type Response struct {
	StatusCode int
	Body       string
	Truncated  bool
}

// PostJSON posts payload as application/json. Any HTTP status is a Response; only
// transport failures are returned as errors.
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode}
	if int64(len(data)) > c.maxBodyBytes {
		data = data[:c.maxBodyBytes]
		out.Truncated = true
	}
	out.Body = string(data)
	return out, nil
}

// IsTimeout reports whether err came from a deadline rather than a refused or broken connection.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
