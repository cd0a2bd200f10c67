// Package tokenizer exposes the subword tokenizer used to bound summarization windows.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer encodes text into model tokens and back. Implementations must be safe for concurrent use.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// DefaultEncoding is the BPE vocabulary used when none is configured.
const DefaultEncoding = tiktoken.MODEL_CL100K_BASE

// GPT2Encoding is the byte-level BPE vocabulary of GPT-2, shared by BART-family summarizers.
const GPT2Encoding = tiktoken.MODEL_R50K_BASE

// o200kPrefixes are model families on o200k_base that the tiktoken tables predate.
var o200kPrefixes = []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4"}

// KnownEncoding reports whether name is a vocabulary NewTiktoken can load.
func KnownEncoding(name string) bool {
	switch name {
	case tiktoken.MODEL_O200K_BASE, tiktoken.MODEL_CL100K_BASE, tiktoken.MODEL_P50K_BASE,
		tiktoken.MODEL_P50K_EDIT, tiktoken.MODEL_R50K_BASE:
		return true
	}
	return false
}

// EncodingForModel returns the vocabulary of an OpenAI chat model. Gateway-style names such as
// "openai/gpt-4o-mini" are resolved by their last path segment. Unknown models get DefaultEncoding.
func EncodingForModel(model string) string {
	model = strings.ToLower(model[strings.LastIndex(model, "/")+1:])

	if enc, ok := tiktoken.MODEL_TO_ENCODING[model]; ok {
		return enc
	}
	for prefix, enc := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(model, prefix) {
			return enc
		}
	}
	for _, prefix := range o200kPrefixes {
		if strings.HasPrefix(model, prefix) {
			return tiktoken.MODEL_O200K_BASE
		}
	}
	return DefaultEncoding
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named BPE encoding. Loading is expensive and should happen once per process.
// Set TIKTOKEN_CACHE_DIR to avoid downloading the vocabulary on every start.
func NewTiktoken(encoding string) (Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer encoding %q: %w", encoding, err)
	}

	return &tiktokenTokenizer{enc: enc}, nil
}

// Encode never truncates; special-token text is encoded as ordinary text.
func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Split partitions tokens into consecutive, non-overlapping windows of at most size tokens.
// It returns ceil(len(tokens)/size) windows; the windows share the backing array of tokens.
func Split(tokens []int, size int) [][]int {
	if size <= 0 || len(tokens) == 0 {
		return nil
	}

	windows := make([][]int, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		windows = append(windows, tokens[start:end:end])
	}

	return windows
}
