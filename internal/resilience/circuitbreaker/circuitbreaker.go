// Package circuitbreaker guards calls to the model collaborators with github.com/sony/gobreaker.
package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/retry"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which counts are cleared.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// FailureThreshold is the failure ratio (0.0-1.0) that trips the breaker.
	FailureThreshold float64

	// MinRequests is the number of requests needed before the ratio is evaluated.
	MinRequests uint32
}

// NERConfig returns the settings used for the entity recognition service.
func NERConfig() Config {
	return Config{
		Name:             "ner-service",
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// SummarizerConfig returns the settings used for summarization backends. Chunks fan out,
// so more requests are observed before the ratio is trusted.
func SummarizerConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a circuit breaker from cfg. State changes are logged through logger.
func New(cfg Config, logger *utils.Logger) *CircuitBreaker {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		IsSuccessful: healthy,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"circuit", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// healthy reports whether err leaves the collaborator's health unquestioned. A caller
// abandoning its request or a rejected request (4xx other than 408 and 429) says nothing
// about the collaborator and must not count towards tripping the breaker.
func healthy(err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) {
		code := httpErr.StatusCode
		return code >= 400 && code < 500 &&
			code != http.StatusTooManyRequests &&
			code != http.StatusRequestTimeout
	}

	return false
}

// Execute runs fn through the breaker. It returns gobreaker.ErrOpenState without calling fn
// while the breaker is open.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen reports whether calls are currently being rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}
