package summarizer

import "fmt"

// Options tunes the chunked summarizer. Zero values are replaced by the defaults below.
type Options struct {
	// WindowTokens is the maximum number of tokens sent to the model per call. It sits below
	// the model's input ceiling to leave room for special tokens added during encoding.
	WindowTokens int

	// MinWords is the word count below which text is returned unchanged.
	MinWords int

	// SecondPassWords is the combined-summary word count above which a compression pass runs.
	SecondPassWords int

	// ChunkMaxLength, ChunkMinFloor and ChunkMinCeiling shape the per-chunk policy.
	ChunkMaxLength  int
	ChunkMinFloor   int
	ChunkMinCeiling int

	// SecondPass is the policy for compressing the combined summary.
	SecondPass LengthPolicy

	// MaxPasses bounds the number of compression passes over an oversized combined summary.
	MaxPasses int

	// Concurrency limits the number of chunks summarized at once.
	Concurrency int
}

const (
	DefaultWindowTokens    = 900
	DefaultMinWords        = 80
	DefaultSecondPassWords = 160
	DefaultConcurrency     = 4
)

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		WindowTokens:    DefaultWindowTokens,
		MinWords:        DefaultMinWords,
		SecondPassWords: DefaultSecondPassWords,
		ChunkMaxLength:  120,
		ChunkMinFloor:   20,
		ChunkMinCeiling: 50,
		SecondPass:      LengthPolicy{MaxLength: 120, MinLength: 60},
		MaxPasses:       2,
		Concurrency:     DefaultConcurrency,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WindowTokens <= 0 {
		o.WindowTokens = d.WindowTokens
	}
	if o.MinWords <= 0 {
		o.MinWords = d.MinWords
	}
	if o.SecondPassWords <= 0 {
		o.SecondPassWords = d.SecondPassWords
	}
	if o.ChunkMaxLength <= 0 {
		o.ChunkMaxLength = d.ChunkMaxLength
	}
	if o.ChunkMinFloor <= 0 {
		o.ChunkMinFloor = d.ChunkMinFloor
	}
	if o.ChunkMinCeiling <= 0 {
		o.ChunkMinCeiling = d.ChunkMinCeiling
	}
	if o.SecondPass.MaxLength <= 0 {
		o.SecondPass = d.SecondPass
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = d.MaxPasses
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	return o
}

// chunkPolicy scales the output budget to the chunk: half its words, capped at ChunkMaxLength
// and floored at ChunkMinFloor. MinLength never exceeds MaxLength.
func (o Options) chunkPolicy(words int) LengthPolicy {
	maxLen := max(min(o.ChunkMaxLength, words/2), o.ChunkMinFloor)
	minLen := max(o.ChunkMinFloor, min(o.ChunkMinCeiling, maxLen-10))
	return LengthPolicy{MaxLength: maxLen, MinLength: min(minLen, maxLen)}
}

// Fingerprint identifies the settings that shape a summary. Concurrency is left out because
// it does not change the output.
func (o Options) Fingerprint() string {
	o = o.withDefaults()
	return fmt.Sprintf("window=%d min=%d second=%d chunk=%d/%d/%d pass=%d/%d passes=%d",
		o.WindowTokens, o.MinWords, o.SecondPassWords,
		o.ChunkMaxLength, o.ChunkMinFloor, o.ChunkMinCeiling,
		o.SecondPass.MaxLength, o.SecondPass.MinLength, o.MaxPasses)
}
