package summarizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/circuitbreaker"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/retry"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

var _ Model = (*OpenAI)(nil)

// OpenAIConfig configures the OpenAI-compatible chat backend. BaseURL may point at any
// compatible gateway, e.g. https://openrouter.ai/api/v1.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAI summarizes through the chat completions API with sampling disabled.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *utils.Logger
}

func NewOpenAI(cfg OpenAIConfig, httpClient *http.Client, logger *utils.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	logger.Info("Initialized OpenAI summarizer", "model", cfg.Model, "base_url", clientCfg.BaseURL)

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   retry.ModelAPIConfig(cfg.MaxRetries + 1),
		breaker: circuitbreaker.New(circuitbreaker.SummarizerConfig("summarizer-openai"), logger),
		logger:  logger,
	}
}

func (o *OpenAI) Summarize(ctx context.Context, text string, policy LengthPolicy) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var summary string
	err := retry.Do(ctx, o.retry, o.logger, func() error {
		out, err := circuitbreaker.Execute(o.breaker, func() (string, error) {
			return o.doSummarize(ctx, text, policy)
		})
		if errors.Is(err, gobreaker.ErrOpenState) {
			o.logger.Warn("OpenAI circuit breaker open, request rejected", "circuit", o.breaker.Name())
			return fmt.Errorf("openai api unavailable: %w", err)
		}
		if err != nil {
			return err
		}
		summary = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("openai summarize failed: %w", err)
	}
	return summary, nil
}

func (o *OpenAI) doSummarize(ctx context.Context, text string, policy LengthPolicy) (string, error) {
	seed := 0
	start := time.Now()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions(policy)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		// A zero temperature is dropped by omitempty, so the smallest positive value is sent instead.
		Temperature: math.SmallestNonzeroFloat32,
		Seed:        &seed,
		MaxTokens:   maxOutputTokens(policy),
	})
	if err != nil {
		o.logger.Error("OpenAI summarization failed", "duration", time.Since(start), "error", err)
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned empty response")
	}

	o.logger.Debug("OpenAI summarization completed",
		"duration", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIError exposes the HTTP status so the retry policy can tell transient failures apart.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Errorf("openai api error: %w", &retry.HTTPError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message})
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Errorf("openai request error: %w", &retry.HTTPError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()})
	}

	return fmt.Errorf("openai api error: %w", err)
}

// Circuit exposes the breaker guarding the chat completions API.
func (o *OpenAI) Circuit() *circuitbreaker.CircuitBreaker {
	return o.breaker
}
