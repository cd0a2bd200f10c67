package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/entities"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/models"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/summarizer"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

// wordTokenizer maps every whitespace-separated word to one token.
type wordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

func (t *wordTokenizer) Encode(text string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ids == nil {
		t.ids = make(map[string]int)
	}

	fields := strings.Fields(text)
	tokens := make([]int, len(fields))
	for i, w := range fields {
		id, ok := t.ids[w]
		if !ok {
			id = len(t.words)
			t.ids[w] = id
			t.words = append(t.words, w)
		}
		tokens[i] = id
	}
	return tokens
}

func (t *wordTokenizer) Decode(tokens []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	words := make([]string, len(tokens))
	for i, id := range tokens {
		words[i] = t.words[id]
	}
	return strings.Join(words, " ")
}

type memoryRepo struct {
	mu    sync.Mutex
	items map[string]*models.CachedAnalysis
	saves int
}

func (r *memoryRepo) GetByHash(_ context.Context, hash string) (*models.CachedAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[hash], nil
}

func (r *memoryRepo) Save(_ context.Context, a *models.CachedAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[string]*models.CachedAnalysis)
	}
	r.items[a.Hash] = a
	r.saves++
	return nil
}

// snapshot copies the stored analyses so subtests cannot see each other's writes.
func (r *memoryRepo) snapshot() map[string]*models.CachedAnalysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make(map[string]*models.CachedAnalysis, len(r.items))
	for k, v := range r.items {
		items[k] = v
	}
	return items
}

// fillModel answers with exactly MaxLength words.
func fillModel(calls *atomic.Int32) summarizer.Model {
	return summarizer.ModelFunc(func(_ context.Context, _ string, policy summarizer.LengthPolicy) (string, error) {
		calls.Add(1)
		return strings.TrimSpace(strings.Repeat("finding ", policy.MaxLength)), nil
	})
}

func staticRecognizer(seen *[]string, spans ...entities.Span) entities.Recognizer {
	var mu sync.Mutex
	return entities.RecognizerFunc(func(_ context.Context, text string) ([]entities.Span, error) {
		if seen != nil {
			mu.Lock()
			*seen = append(*seen, text)
			mu.Unlock()
		}
		return spans, nil
	})
}

func newTestService(recognizer entities.Recognizer, model summarizer.Model, opts Options, repo *memoryRepo) ReportService {
	m := Models{Recognizer: recognizer, Tokenizer: &wordTokenizer{}, Summarizer: model}
	if repo == nil {
		return NewService(m, opts, nil, nil, utils.NewNopLogger())
	}
	return NewService(m, opts, repo, nil, utils.NewNopLogger())
}

// alphaWord spells i in base 26 so generated reports carry no letter-digit joins.
func alphaWord(i int) string {
	word := []byte("w")
	for ; i > 0; i /= 26 {
		word = append(word, byte('a'+i%26))
	}
	return string(word)
}

func TestAnalyze_EmptyInput(t *testing.T) {
	var calls atomic.Int32
	var seen []string
	svc := newTestService(staticRecognizer(&seen), fillModel(&calls), Options{}, nil)

	for _, input := range []string{"", "   \n\t "} {
		result, err := svc.Analyze(context.Background(), input)

		require.Error(t, err)
		assert.Nil(t, result)

		appErr, ok := utils.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
		assert.Equal(t, models.EmptyReportMessage, appErr.Message)
	}

	assert.Empty(t, seen)
	assert.Zero(t, calls.Load())
}

func TestAnalyze_ShortParagraphIsReturnedVerbatim(t *testing.T) {
	paragraph := "The patient was seen today for a persistent cough lasting two weeks. " +
		"Chest examination was clear and no fever was recorded. Aspirin was advised for discomfort and rest at home."
	require.Less(t, len(strings.Fields(paragraph)), 80)

	var calls atomic.Int32
	recognizer := staticRecognizer(nil,
		entities.Span{Text: "cough", Label: "DISEASE"},
		entities.Span{Text: "Aspirin", Label: "DRUG"},
		entities.Span{Text: "two weeks", Label: "DATE"},
		entities.Span{Text: "patient", Label: "PERSON"},
	)
	svc := newTestService(recognizer, fillModel(&calls), Options{}, nil)

	result, err := svc.Analyze(context.Background(), paragraph)
	require.NoError(t, err)

	assert.Equal(t, paragraph, result.Summary.Text)
	assert.Equal(t, string(summarizer.OutcomePassthrough), result.Summary.Outcome)
	assert.Zero(t, calls.Load())

	want := models.EntitySection{
		Status: models.EntityStatusFound,
		Groups: []models.EntityGroup{
			{Category: "DISEASE", Values: []string{"cough"}, Display: "cough"},
			{Category: "DRUG", Values: []string{"Aspirin"}, Display: "Aspirin"},
			{Category: "DATE", Values: []string{"two weeks"}, Display: "two weeks"},
		},
	}
	if diff := cmp.Diff(want, result.Entities); diff != "" {
		t.Errorf("entities mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, models.Disclaimer, result.Disclaimer)
	assert.NotEmpty(t, result.ID)
}

func TestAnalyze_LongReportIsCompressed(t *testing.T) {
	words := make([]string, 2000)
	for i := range words {
		switch i % 50 {
		case 0:
			words[i] = "Metformin"
		case 25:
			words[i] = "metformin"
		default:
			words[i] = alphaWord(i)
		}
	}
	report := strings.Join(words, " ")

	var seen []string
	var calls atomic.Int32
	recognizer := staticRecognizer(&seen,
		entities.Span{Text: "Metformin", Label: "DRUG"},
		entities.Span{Text: "metformin", Label: "DRUG"},
		entities.Span{Text: "Metformin", Label: "DRUG"},
	)
	svc := newTestService(recognizer, fillModel(&calls), Options{}, nil)

	result, err := svc.Analyze(context.Background(), report)
	require.NoError(t, err)

	// normalization leaves a clean report untouched
	assert.Equal(t, []string{report}, seen)
	assert.Equal(t, report, result.NormalizedText)

	assert.Equal(t, string(summarizer.OutcomeCompressed), result.Summary.Outcome)
	assert.Equal(t, 3, result.Summary.Chunks)
	assert.Zero(t, result.Summary.FailedChunks)
	assert.LessOrEqual(t, len(strings.Fields(result.Summary.Text)), 120)

	require.Len(t, result.Entities.Groups, 1)
	assert.Equal(t, []string{"Metformin", "metformin"}, result.Entities.Groups[0].Values)
	assert.Equal(t, "Metformin, metformin", result.Entities.Groups[0].Display)
}

func TestAnalyze_RunTogetherTokensAreSplitBeforeNLP(t *testing.T) {
	var seen []string
	var summarized []string
	var mu sync.Mutex

	model := summarizer.ModelFunc(func(_ context.Context, text string, _ summarizer.LengthPolicy) (string, error) {
		mu.Lock()
		summarized = append(summarized, text)
		mu.Unlock()
		return "summary", nil
	})
	svc := newTestService(staticRecognizer(&seen), model, Options{Summarizer: summarizer.Options{MinWords: 1}}, nil)

	result, err := svc.Analyze(context.Background(), "PatientJohnDoe admitted.Fever 38C")
	require.NoError(t, err)

	want := "Patient John Doe admitted. Fever 38 C"
	assert.Equal(t, want, result.NormalizedText)
	assert.Equal(t, []string{want}, seen)
	assert.Equal(t, []string{want}, summarized)
}

func TestAnalyze_NoEntities(t *testing.T) {
	var calls atomic.Int32
	recognizer := staticRecognizer(nil, entities.Span{Text: "London", Label: "GPE"})
	svc := newTestService(recognizer, fillModel(&calls), Options{}, nil)

	result, err := svc.Analyze(context.Background(), "Routine check in London.")
	require.NoError(t, err)

	assert.Equal(t, models.EntityStatusNone, result.Entities.Status)
	assert.Equal(t, models.NoEntitiesMessage, result.Entities.Message)
	assert.Empty(t, result.Entities.Groups)
}

func TestAnalyze_EntityFailureDegrades(t *testing.T) {
	var calls atomic.Int32
	failing := entities.RecognizerFunc(func(context.Context, string) ([]entities.Span, error) {
		return nil, errors.New("ner service down")
	})
	repo := &memoryRepo{}
	svc := newTestService(failing, fillModel(&calls), Options{}, repo)

	result, err := svc.Analyze(context.Background(), "Blood pressure is normal.")
	require.NoError(t, err)

	assert.Equal(t, models.EntityStatusUnavailable, result.Entities.Status)
	assert.Equal(t, models.EntitiesUnavailableMessage, result.Entities.Message)
	assert.Equal(t, "Blood pressure is normal.", result.Summary.Text)
	// degraded results are not cached
	assert.Zero(t, repo.saves)
}

func TestAnalyze_EntityFailureStrict(t *testing.T) {
	var calls atomic.Int32
	failing := entities.RecognizerFunc(func(context.Context, string) ([]entities.Span, error) {
		return nil, errors.New("ner service down")
	})
	svc := newTestService(failing, fillModel(&calls), Options{StrictEntityExtraction: true}, nil)

	_, err := svc.Analyze(context.Background(), "Blood pressure is normal.")

	appErr, ok := utils.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, appErr.StatusCode)
	assert.Equal(t, models.EntityExtractionFailMessage, appErr.Message)
	assert.ErrorContains(t, err, "ner service down")
}

func TestAnalyze_FallbackWhenSummarizerDown(t *testing.T) {
	model := summarizer.ModelFunc(func(context.Context, string, summarizer.LengthPolicy) (string, error) {
		return "", errors.New("model unavailable")
	})
	repo := &memoryRepo{}
	svc := newTestService(staticRecognizer(nil), model, Options{}, repo)

	result, err := svc.Analyze(context.Background(), strings.Repeat("Results are within normal limits. ", 40))
	require.NoError(t, err)

	assert.Equal(t, summarizer.FallbackMessage, result.Summary.Text)
	assert.Equal(t, string(summarizer.OutcomeFallback), result.Summary.Outcome)
	assert.Zero(t, repo.saves)
}

func TestAnalyze_CachedResultIsReused(t *testing.T) {
	var calls atomic.Int32
	var seen []string
	repo := &memoryRepo{}
	svc := newTestService(staticRecognizer(&seen, entities.Span{Text: "Flu", Label: "DISEASE"}), fillModel(&calls), Options{}, repo)

	report := strings.Repeat("Influenza confirmed by swab and treated. ", 20)

	first, err := svc.Analyze(context.Background(), report)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, repo.saves)

	// same report once normalized
	second, err := svc.Analyze(context.Background(), "  "+report+"\n")
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Entities, second.Entities)
	assert.Len(t, seen, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnalyze_CacheIsScopedToSummarizerSettings(t *testing.T) {
	var calls atomic.Int32
	repo := &memoryRepo{}
	report := strings.Repeat("Influenza confirmed by swab and treated. ", 20)
	base := Options{CacheScope: "inference|r50k_base"}

	first, err := newTestService(staticRecognizer(nil), fillModel(&calls), base, repo).Analyze(context.Background(), report)
	require.NoError(t, err)
	require.False(t, first.Cached)

	tests := []struct {
		name       string
		opts       Options
		wantCached bool
	}{
		{"same settings", base, true},
		{"concurrency does not matter", Options{CacheScope: base.CacheScope, Summarizer: summarizer.Options{Concurrency: 1}}, true},
		{"other backend", Options{CacheScope: "openai|gpt-4o-mini|o200k_base"}, false},
		{"other window", Options{CacheScope: base.CacheScope, Summarizer: summarizer.Options{WindowTokens: 512}}, false},
		{"other threshold", Options{CacheScope: base.CacheScope, Summarizer: summarizer.Options{SecondPassWords: 100}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(staticRecognizer(nil), fillModel(&calls), tt.opts, &memoryRepo{items: repo.snapshot()})

			result, err := svc.Analyze(context.Background(), report)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCached, result.Cached)
		})
	}
}

func TestAnalyzeUpload(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(staticRecognizer(nil), fillModel(&calls), Options{}, nil)

	result, err := svc.AnalyzeUpload(context.Background(), &models.UploadRequest{
		File:        []byte("Hemoglobin normal.\r\n\r\nPlatelets normal."),
		Filename:    "labs.txt",
		ContentType: "application/octet-stream",
	})
	require.NoError(t, err)
	assert.Equal(t, "labs.txt", result.Source)
	assert.Equal(t, "Hemoglobin normal. Platelets normal.", result.Summary.Text)
}

func TestAnalyzeUpload_Rejections(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(staticRecognizer(nil), fillModel(&calls), Options{}, nil)

	tests := []struct {
		name    string
		req     *models.UploadRequest
		message string
	}{
		{
			name:    "unsupported",
			req:     &models.UploadRequest{File: []byte{0x89}, Filename: "scan.png", ContentType: "image/png"},
			message: "Unsupported file type 'image/png'",
		},
		{
			name:    "blank text",
			req:     &models.UploadRequest{File: []byte("  \n "), Filename: "empty.txt"},
			message: "No text could be extracted",
		},
		{
			name:    "corrupt docx",
			req:     &models.UploadRequest{File: []byte("garbage"), Filename: "note.docx"},
			message: "Failed to read the document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AnalyzeUpload(context.Background(), tt.req)

			appErr, ok := utils.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
			assert.Contains(t, appErr.Message, tt.message)
		})
	}
	assert.Zero(t, calls.Load())
}
