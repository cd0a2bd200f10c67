package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/circuitbreaker"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/retry"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

var _ Model = (*Inference)(nil)

type inferenceParameters struct {
	MaxLength int  `json:"max_length"`
	MinLength int  `json:"min_length"`
	DoSample  bool `json:"do_sample"`
}

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceOutput struct {
	SummaryText string `json:"summary_text"`
}

type inferenceError struct {
	Error string `json:"error"`
}

// Inference calls a seq2seq summarization endpoint speaking the Hugging Face inference
// protocol: {"inputs": ..., "parameters": {...}} answered by [{"summary_text": ...}].
// Lengths in the policy are model tokens.
type Inference struct {
	url     string
	token   string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *utils.Logger
}

func NewInference(url, token string, client *http.Client, logger *utils.Logger) *Inference {
	return &Inference{
		url:     url,
		token:   token,
		client:  client,
		breaker: circuitbreaker.New(circuitbreaker.SummarizerConfig("summarizer-inference"), logger),
		logger:  logger,
	}
}

func (m *Inference) Summarize(ctx context.Context, text string, policy LengthPolicy) (string, error) {
	out, err := circuitbreaker.Execute(m.breaker, func() (string, error) {
		return m.call(ctx, text, policy)
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		m.logger.Warn("Summarizer circuit breaker open, request rejected", "circuit", m.breaker.Name())
		return "", fmt.Errorf("summarization service unavailable: %w", err)
	}
	return out, err
}

func (m *Inference) call(ctx context.Context, text string, policy LengthPolicy) (string, error) {
	body, err := json.Marshal(inferenceRequest{
		Inputs: text,
		Parameters: inferenceParameters{
			MaxLength: policy.MaxLength,
			MinLength: policy.MinLength,
			DoSample:  false,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr inferenceError
		_ = json.Unmarshal(payload, &apiErr)
		m.logger.Error("Summarization service error", "status", resp.StatusCode, "error", apiErr.Error)
		return "", &retry.HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	var outputs []inferenceOutput
	if err := json.Unmarshal(payload, &outputs); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(outputs) == 0 {
		return "", errEmptySummary
	}

	return outputs[0].SummaryText, nil
}

// Circuit exposes the breaker guarding the inference server.
func (m *Inference) Circuit() *circuitbreaker.CircuitBreaker {
	return m.breaker
}
