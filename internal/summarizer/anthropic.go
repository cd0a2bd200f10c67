package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/circuitbreaker"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/retry"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

var _ Model = (*Anthropic)(nil)

type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Anthropic summarizes through the Messages API at temperature zero.
type Anthropic struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *utils.Logger
}

func NewAnthropic(cfg AnthropicConfig, httpClient *http.Client, logger *utils.Logger) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled by retry.Do so that the circuit breaker sees every attempt.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	logger.Info("Initialized Anthropic summarizer", "model", cfg.Model)

	return &Anthropic{
		client:  anthropic.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   retry.ModelAPIConfig(cfg.MaxRetries + 1),
		breaker: circuitbreaker.New(circuitbreaker.SummarizerConfig("summarizer-anthropic"), logger),
		logger:  logger,
	}
}

func (a *Anthropic) Summarize(ctx context.Context, text string, policy LengthPolicy) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var summary string
	err := retry.Do(ctx, a.retry, a.logger, func() error {
		out, err := circuitbreaker.Execute(a.breaker, func() (string, error) {
			return a.doSummarize(ctx, text, policy)
		})
		if errors.Is(err, gobreaker.ErrOpenState) {
			a.logger.Warn("Anthropic circuit breaker open, request rejected", "circuit", a.breaker.Name())
			return fmt.Errorf("anthropic api unavailable: %w", err)
		}
		if err != nil {
			return err
		}
		summary = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic summarize failed: %w", err)
	}
	return summary, nil
}

func (a *Anthropic) doSummarize(ctx context.Context, text string, policy LengthPolicy) (string, error) {
	start := time.Now()

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(maxOutputTokens(policy)),
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: instructions(policy)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		a.logger.Error("Anthropic summarization failed", "duration", time.Since(start), "error", err)
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("anthropic api error: %w", &retry.HTTPError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()})
		}
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	if len(message.Content) == 0 {
		return "", fmt.Errorf("anthropic api returned empty response")
	}

	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return "", fmt.Errorf("anthropic api returned unexpected response type")
	}

	a.logger.Debug("Anthropic summarization completed",
		"duration", time.Since(start),
		"input_tokens", message.Usage.InputTokens,
		"output_tokens", message.Usage.OutputTokens)

	return textBlock.Text, nil
}

// Circuit exposes the breaker guarding the Messages API.
func (a *Anthropic) Circuit() *circuitbreaker.CircuitBreaker {
	return a.breaker
}
