package httpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Retry configures DoWithRetry.
type Retry struct {
	MaxRetries int
	Delay      time.Duration
	Logger     *slog.Logger
}

// DoWithRetry sends the request built by newReq, retrying on transport
// errors, 429 and 5xx with a linear backoff. newReq is called once per
// attempt so request bodies can be rebuilt. A non-retryable status is
// returned to the caller with its body unread.
func DoWithRetry(ctx context.Context, client *http.Client, provider string, r Retry, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.Delay * time.Duration(attempt)):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", provider, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%s: %w", provider, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = DecodeError(provider, resp)
			resp.Body.Close()
			if r.Logger != nil {
				r.Logger.Warn("retrying request",
					"provider", provider,
					"attempt", attempt+1,
					"status", resp.StatusCode,
				)
			}
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}
