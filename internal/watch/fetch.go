package watch

import (
	"context"
	"io"
	"net/http"
	"time"
)

// DefaultURL is the page the watcher polls when no override is configured.
const DefaultURL = "https://lastbottlewines.com"

// Fetcher performs one page fetch. Swappable so tests can serve fixtures.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

type httpFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a Fetcher backed by net/http with the given
// per-request timeout (0 means 30s).
func NewHTTPFetcher(timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
