package steps

import (
	"context"
	"net/http"
	"time"
)

// DefaultWarmup bounds how long WaitReady polls a freshly started service.
const DefaultWarmup = 5 * time.Second

const readyPoll = 250 * time.Millisecond

// WaitReady polls url with GET until the server answers with a non-5xx
// status, d elapses, or ctx is done.
func WaitReady(ctx context.Context, url string, d time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	client := &http.Client{Timeout: time.Second}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(readyPoll):
		}
	}
}
