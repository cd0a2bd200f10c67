// Package summarizer produces patient-readable summaries of arbitrarily long reports by
// summarizing token-bounded windows and, when needed, compressing the combined result.
package summarizer

import (
	"context"
	"errors"
	"fmt"
)

// LengthPolicy bounds a single summarization call. Lengths are in words for prompt-based
// backends and in model tokens for seq2seq inference servers. Output is always requested
// without sampling.
type LengthPolicy struct {
	MaxLength int
	MinLength int
}

// Model is the summarization collaborator. Implementations must be deterministic for a
// given input and policy and safe for concurrent use.
type Model interface {
	Summarize(ctx context.Context, text string, policy LengthPolicy) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, text string, policy LengthPolicy) (string, error)

func (f ModelFunc) Summarize(ctx context.Context, text string, policy LengthPolicy) (string, error) {
	return f(ctx, text, policy)
}

var errEmptySummary = errors.New("model returned an empty summary")

// instructions is the system prompt shared by the chat-model backends.
func instructions(policy LengthPolicy) string {
	return fmt.Sprintf("You summarize excerpts of medical reports for patients. "+
		"Write a plain-language summary of between %d and %d words. "+
		"Use only information present in the text, do not add advice or diagnoses, "+
		"and reply with the summary text only.",
		policy.MinLength, policy.MaxLength)
}

// maxOutputTokens converts a word budget to a token ceiling for chat-model backends.
func maxOutputTokens(policy LengthPolicy) int {
	return policy.MaxLength*2 + 16
}
