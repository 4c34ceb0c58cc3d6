package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	maxRetries     = 3
	retryBaseDelay = 250 * time.Millisecond
)

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// doWithRetry executes an HTTP request with exponential backoff on transient
// errors. The request is rebuilt for every attempt because a body reader
// cannot be replayed.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	var lastStatus string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBaseDelay * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			if !isRetryableError(err) {
				return nil, err
			}
			lastStatus = err.Error()
			continue
		}
		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		lastStatus = resp.Status
		resp.Body.Close()
	}
	return nil, fmt.Errorf("retries exhausted after %d attempts: %s", maxRetries+1, lastStatus)
}
