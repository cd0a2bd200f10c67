package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/metrics"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/tokenizer"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/tracing"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

// FallbackMessage is returned when no chunk of a report could be summarized.
const FallbackMessage = "This report could not be safely summarized. " +
	"Please review the original text with your care provider."

// Outcome names the terminal state a summarization ended in.
type Outcome string

const (
	OutcomePassthrough Outcome = "passthrough"
	OutcomeCombined    Outcome = "combined"
	OutcomeCompressed  Outcome = "compressed"
	OutcomeFallback    Outcome = "fallback"
)

// Chunk is a token window of the input and its decoded text.
type Chunk struct {
	Index  int
	Tokens []int
	Text   string
}

// Result is the summary together with how it was produced.
type Result struct {
	Text         string  `json:"text"`
	Outcome      Outcome `json:"outcome"`
	Chunks       int     `json:"chunks"`
	FailedChunks int     `json:"failed_chunks"`
}

var errTooLong = errors.New("combined summary still exceeds the model window")

// Chunked summarizes text of any length through a Model with a bounded input window.
type Chunked struct {
	model   Model
	tok     tokenizer.Tokenizer
	opts    Options
	logger  *utils.Logger
	metrics metrics.Recorder
}

func NewChunked(model Model, tok tokenizer.Tokenizer, opts Options, logger *utils.Logger, recorder metrics.Recorder) *Chunked {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Chunked{
		model:   model,
		tok:     tok,
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: recorder,
	}
}

// Summarize never fails: it returns the input itself when it is too short, the combined or
// compressed chunk summaries, or FallbackMessage when every chunk failed.
func (s *Chunked) Summarize(ctx context.Context, text string) Result {
	ctx, span := tracing.Tracer().Start(ctx, "summarizer.Summarize")
	defer span.End()

	start := time.Now()
	res := s.summarize(ctx, text)
	s.metrics.RecordSummary(string(res.Outcome), time.Since(start))

	span.SetAttributes(
		attribute.String("summary.outcome", string(res.Outcome)),
		attribute.Int("summary.chunks", res.Chunks),
		attribute.Int("summary.failed_chunks", res.FailedChunks),
	)
	return res
}

func (s *Chunked) summarize(ctx context.Context, text string) Result {
	if countWords(text) < s.opts.MinWords {
		return Result{Text: text, Outcome: OutcomePassthrough}
	}

	chunks := s.split(text)
	parts := s.summarizeChunks(ctx, chunks, s.opts.chunkPolicy)
	res := Result{Chunks: len(chunks), FailedChunks: len(chunks) - len(parts)}

	if len(parts) == 0 {
		s.logger.Warn("Every chunk failed to summarize, returning fallback", "chunks", len(chunks))
		res.Text, res.Outcome = FallbackMessage, OutcomeFallback
		return res
	}

	combined := strings.Join(parts, " ")
	res.Text, res.Outcome = combined, OutcomeCombined

	words := countWords(combined)
	if words <= s.opts.SecondPassWords {
		return res
	}

	compressed, err := s.compress(ctx, combined, 1)
	if err != nil {
		s.logger.Warn("Second-pass compression failed, returning combined summary",
			"error", err, "combined_words", words)
		return res
	}

	res.Text, res.Outcome = compressed, OutcomeCompressed
	return res
}

// split windows text in token space and decodes each window on its own.
func (s *Chunked) split(text string) []Chunk {
	windows := tokenizer.Split(s.tok.Encode(text), s.opts.WindowTokens)

	chunks := make([]Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = Chunk{Index: i, Tokens: w, Text: s.tok.Decode(w)}
	}
	return chunks
}

// summarizeChunks runs the model over every chunk concurrently and returns the successful
// summaries in chunk order. Failed chunks are dropped. Once ctx is done no further chunk is
// dispatched.
func (s *Chunked) summarizeChunks(ctx context.Context, chunks []Chunk, policy func(words int) LengthPolicy) []string {
	results := make([]string, len(chunks))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Request abandoned, not dispatching remaining chunks",
				"remaining", len(chunks)-i, "error", err)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out, err := s.summarizeChunk(ctx, chunk, policy)
			s.metrics.RecordChunk(err == nil)
			if err != nil {
				s.logger.Warn("Skipping chunk that failed to summarize",
					"chunk", chunk.Index, "tokens", len(chunk.Tokens), "error", err)
				return nil
			}
			results[chunk.Index] = out
			return nil
		})
	}
	_ = g.Wait()

	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r != "" {
			parts = append(parts, r)
		}
	}
	return parts
}

func (s *Chunked) summarizeChunk(ctx context.Context, chunk Chunk, policy func(words int) LengthPolicy) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("model panicked: %v", rec)
		}
	}()

	text := strings.TrimSpace(strings.ToValidUTF8(chunk.Text, ""))
	if text == "" {
		return "", errors.New("chunk decoded to unusable text")
	}

	return s.call(ctx, text, policy(countWords(text)))
}

func (s *Chunked) call(ctx context.Context, text string, policy LengthPolicy) (string, error) {
	out, err := s.model.Summarize(ctx, text, policy)
	if err != nil {
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", errEmptySummary
	}
	return out, nil
}

// compress runs the second-pass policy over the combined summary. Text that no longer fits a
// single window is windowed again, up to MaxPasses passes.
func (s *Chunked) compress(ctx context.Context, text string, pass int) (string, error) {
	if len(s.tok.Encode(text)) <= s.opts.WindowTokens {
		return s.call(ctx, text, s.opts.SecondPass)
	}

	if pass >= s.opts.MaxPasses {
		return "", errTooLong
	}

	parts := s.summarizeChunks(ctx, s.split(text), func(int) LengthPolicy { return s.opts.SecondPass })
	if len(parts) == 0 {
		return "", errors.New("every window of the combined summary failed")
	}

	// One more pass always runs so the result is a single second-pass summary.
	return s.compress(ctx, strings.Join(parts, " "), pass+1)
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
