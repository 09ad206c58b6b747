package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProbe checks an HTTP endpoint. Any 2xx response is healthy.
type HTTPProbe struct {
	url        string
	httpClient *http.Client
}

// NewHTTPProbe creates a probe for url.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (p *HTTPProbe) Check(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}
	return true, nil
}
