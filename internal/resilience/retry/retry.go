// Package retry provides the retry policies used when calling model collaborators.
// HTTP collaborators get a go-retryablehttp client; SDK-based backends use retry-go.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration
}

// ModelAPIConfig returns the policy for hosted model APIs. Retries are kept low because
// every attempt is billed.
func ModelAPIConfig(attempts int) Config {
	if attempts < 1 {
		attempts = 1
	}
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts are used up,
// or ctx is done. The last error is returned.
func Do(ctx context.Context, cfg Config, logger leveledLogger, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	err := retrygo.Do(
		fn,
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.Delay(cfg.InitialDelay),
		retrygo.MaxDelay(cfg.MaxDelay),
		retrygo.DelayType(retrygo.CombineDelay(retrygo.BackOffDelay, retrygo.RandomDelay)),
		retrygo.MaxJitter(max(cfg.InitialDelay/10, time.Millisecond)),
		retrygo.RetryIf(IsRetryable),
		retrygo.LastErrorOnly(true),
		retrygo.OnRetry(func(n uint, err error) {
			if logger != nil {
				logger.Warn("operation failed, retrying",
					"attempt", n+1,
					"max_attempts", attempts,
					"error", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient failure worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout
	}

	return false
}

// HTTPError is a non-2xx response from a collaborator.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// leveledLogger matches *slog.Logger and retryablehttp.LeveledLogger.
type leveledLogger interface {
	Error(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// HTTPClientConfig configures NewHTTPClient.
type HTTPClientConfig struct {
	RetryMax int
	Timeout  time.Duration
}

// NewHTTPClient returns an *http.Client that retries transient failures and records
// client spans for each attempt.
func NewHTTPClient(cfg HTTPClientConfig, logger leveledLogger) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.HTTPClient.Transport = otelhttp.NewTransport(client.HTTPClient.Transport)
	client.Backoff = retryablehttp.DefaultBackoff
	client.CheckRetry = checkRetry
	// Return the last response once retries are exhausted so callers can read its status.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if logger != nil {
		client.Logger = logger
	}

	return client.StandardClient()
}

// checkRetry defers to the default policy but never retries a 400: collaborators use it
// for inputs that will fail the same way again.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if resp != nil && resp.StatusCode == http.StatusBadRequest {
		return false, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
