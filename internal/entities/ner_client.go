package entities

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

// Force compiler to validate that the client implements Recognizer.
var _ Recognizer = (*NERClient)(nil)

type nerRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type nerResponse struct {
	Entities []Span `json:"entities"`
}

// NERClient calls an NLP server exposing POST {url} with {"text": ...} and answering
// {"entities": [{"text": ..., "label": ...}]}.
type NERClient struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *utils.Logger
}

func NewNERClient(url string, client *http.Client, logger *utils.Logger) *NERClient {
	return &NERClient{
		url:     url,
		client:  client,
		breaker: circuitbreaker.New(circuitbreaker.NERConfig(), logger),
		logger:  logger,
	}
}

func (c *NERClient) Recognize(ctx context.Context, text string) ([]Span, error) {
	spans, err := circuitbreaker.Execute(c.breaker, func() ([]Span, error) {
		return c.call(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		c.logger.Warn("NER circuit breaker open, request rejected", "circuit", c.breaker.Name())
		return nil, fmt.Errorf("ner service unavailable: %w", err)
	}
	return spans, err
}

func (c *NERClient) call(ctx context.Context, text string) ([]Span, error) {
	body, err := json.Marshal(nerRequest{Text: text, Language: "en"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("NER service error", "status", resp.StatusCode, "body", string(payload))
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "ner service returned an error"}
	}

	var decoded nerResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return decoded.Entities, nil
}

// Circuit exposes the breaker guarding the NER service.
func (c *NERClient) Circuit() *circuitbreaker.CircuitBreaker {
	return c.breaker
}
