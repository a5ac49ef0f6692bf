package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultFetchLimit = 16 << 20 // 16 MiB

// HTTPFetcher downloads image payloads from the URLs the bridge hands
// out in image segments.
type HTTPFetcher struct {
	HTTP     *http.Client
	MaxBytes int64
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		MaxBytes: defaultFetchLimit,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: http %d", url, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if int64(len(payload)) > limit {
		return nil, fmt.Errorf("fetch %s: payload exceeds %d bytes", url, limit)
	}
	return payload, nil
}
