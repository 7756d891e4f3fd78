package geocode

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// retryClient retries transient failures with exponential backoff and
// jitter. Client errors (4xx other than 429) and context cancellation are
// returned immediately.
type retryClient struct {
	client     httpDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func newRetryClient(client httpDoer, maxRetries int, baseDelay time.Duration) *retryClient {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &retryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   30 * baseDelay,
	}
}

// Do executes the request. After the last attempt a retryable status is
// turned into an error wrapping ErrTransient.
func (rc *retryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("resetting request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			log.Printf("geocode: retry %d/%d for %s%s (waiting %s)",
				attempt, rc.maxRetries, req.URL.Host, req.URL.Path, delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("%w: %v", ErrTransient, err)
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("%w: service returned %d", ErrTransient, resp.StatusCode)
	}

	return nil, lastErr
}

// delay is baseDelay*2^(attempt-1) capped at maxDelay, with the upper half
// jittered.
func (rc *retryClient) delay(attempt int) time.Duration {
	exp := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(rc.maxDelay) {
		exp = float64(rc.maxDelay)
	}
	return time.Duration(exp/2 + rand.Float64()*exp/2)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
