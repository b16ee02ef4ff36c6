package retry

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/chainclaw/chainclaw/pkg/errs"
)

// retryableStatuses are the HTTP statuses worth another attempt.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// RetryableStatus reports whether an HTTP status should be retried.
func RetryableStatus(code int) bool {
	return retryableStatuses[code]
}

type httpStatusError struct {
	code       int
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("retryable HTTP status %d", e.code)
}

// FetchOptions configures FetchWithRetry.
type FetchOptions struct {
	MaxAttempts int
	Backoff     Backoff
}

// FetchWithRetry performs an outbound HTTP request, retrying on transient
// network errors and on statuses {429, 502, 503, 504}. A Retry-After header
// in seconds overrides the computed delay. Non-retryable statuses (other
// 4xx, 5xx) pass through: the caller still checks resp.StatusCode.
//
// The request body, if any, must be rewindable; callers pass the raw bytes.
func FetchWithRetry(client *http.Client, req *http.Request, body []byte, opts FetchOptions) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}

	doOpts := Options{
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		ShouldRetry: func(err error, _ int) bool {
			if _, ok := err.(*httpStatusError); ok {
				return true
			}
			return errs.IsTransient(err)
		},
		RetryAfter: func(err error) time.Duration {
			if se, ok := err.(*httpStatusError); ok {
				return se.retryAfter
			}
			return 0
		},
	}

	return Do(req.Context(), doOpts, func(_ int) (*http.Response, error) {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}

		if RetryableStatus(resp.StatusCode) {
			after := parseRetryAfter(resp.Header.Get("Retry-After"))
			// Drain so the connection can be reused before the retry.
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &httpStatusError{code: resp.StatusCode, retryAfter: after}
		}

		return resp, nil
	})
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
