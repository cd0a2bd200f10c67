package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/entities"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/extractor"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/metrics"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/models"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/normalizer"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/repository"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/summarizer"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/tokenizer"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/tracing"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

// Models are the collaborator handles built once at startup and shared, read-only, by
// every request. There is no reload: changing a model means restarting the process.
type Models struct {
	Recognizer entities.Recognizer
	Tokenizer  tokenizer.Tokenizer
	Summarizer summarizer.Model
}

type Options struct {
	Summarizer summarizer.Options

	// CacheScope names the collaborators behind a result, e.g. the summarizer backend, model and
	// tokenizer encoding. Together with the summarizer options it scopes cache keys, so a
	// configuration change never replays summaries produced under the old one.
	CacheScope string

	// StrictEntityExtraction fails the request when entity recognition fails instead of
	// returning the summary with entities marked unavailable.
	StrictEntityExtraction bool
}

type ReportService interface {
	Analyze(ctx context.Context, raw string) (*models.AnalysisResult, error)
	AnalyzeUpload(ctx context.Context, req *models.UploadRequest) (*models.AnalysisResult, error)
}

type reportService struct {
	extractor  *entities.Extractor
	summarizer *summarizer.Chunked
	repo       repository.Repository
	cacheScope string
	strict     bool
	metrics    metrics.Recorder
	logger     *utils.Logger
}

// NewService wires the pipeline. repo may be nil, which disables the result cache.
func NewService(m Models, opts Options, repo repository.Repository, recorder metrics.Recorder, logger *utils.Logger) ReportService {
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &reportService{
		extractor:  entities.NewExtractor(m.Recognizer),
		summarizer: summarizer.NewChunked(m.Summarizer, m.Tokenizer, opts.Summarizer, logger, recorder),
		repo:       repo,
		cacheScope: opts.CacheScope + "|" + opts.Summarizer.Fingerprint(),
		strict:     opts.StrictEntityExtraction,
		metrics:    recorder,
		logger:     logger,
	}
}

func (s *reportService) Analyze(ctx context.Context, raw string) (*models.AnalysisResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "services.Analyze")
	defer span.End()

	if strings.TrimSpace(raw) == "" {
		return nil, utils.NewBadRequestError(models.EmptyReportMessage)
	}

	normalized := normalizer.Normalize(raw)
	hash := hashReport(s.cacheScope, normalized)
	span.SetAttributes(attribute.Int("report.words", len(strings.Fields(normalized))))

	if cached := s.lookup(ctx, hash); cached != nil {
		span.SetAttributes(attribute.Bool("report.cached", true))
		return &models.AnalysisResult{
			Entities:       cached.Entities,
			Summary:        cached.Summary,
			Disclaimer:     models.Disclaimer,
			NormalizedText: normalized,
			ID:             utils.GenerateID(),
			Cached:         true,
			AnalyzedAt:     cached.CreatedAt,
		}, nil
	}

	var (
		found   []entities.Entity
		entErr  error
		summary summarizer.Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, entErr = s.extractor.Extract(gctx, normalized)
		if entErr != nil && s.strict {
			return entErr
		}
		return nil
	})
	g.Go(func() error {
		summary = s.summarizer.Summarize(gctx, normalized)
		return nil
	})

	if err := g.Wait(); err != nil {
		s.metrics.RecordEntityFailure()
		s.logger.Error("Entity extraction failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "entity extraction failed")
		return nil, utils.NewBadGatewayError(models.EntityExtractionFailMessage, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis cancelled: %w", err)
	}

	section := s.entitySection(found, entErr)
	span.SetAttributes(
		attribute.String("entities.status", string(section.Status)),
		attribute.String("summary.outcome", string(summary.Outcome)),
	)

	result := &models.AnalysisResult{
		Entities: section,
		Summary: models.Summary{
			Text:         summary.Text,
			Outcome:      string(summary.Outcome),
			Chunks:       summary.Chunks,
			FailedChunks: summary.FailedChunks,
		},
		Disclaimer:     models.Disclaimer,
		NormalizedText: normalized,
		ID:             utils.GenerateID(),
		AnalyzedAt:     time.Now().UTC(),
	}

	if complete(result) {
		s.store(ctx, hash, result)
	}

	s.logger.Info("Report analyzed",
		"id", result.ID,
		"entities", section.Status,
		"outcome", summary.Outcome,
		"chunks", summary.Chunks,
		"failed_chunks", summary.FailedChunks)

	return result, nil
}

func (s *reportService) AnalyzeUpload(ctx context.Context, req *models.UploadRequest) (*models.AnalysisResult, error) {
	contentType := extractor.ContentType(req.Filename, req.ContentType)
	if !extractor.Supported(contentType) {
		s.logger.Warn("Unsupported content type", "content_type", contentType, "filename", req.Filename)
		return nil, utils.NewBadRequestError(fmt.Sprintf("Unsupported file type '%s'. Only PDF, DOCX and TXT are allowed", contentType))
	}

	text, err := extractor.Extract(contentType, req.File)
	if errors.Is(err, extractor.ErrNoText) {
		s.logger.Warn("No text extracted from document", "filename", req.Filename)
		return nil, utils.NewBadRequestError("No text could be extracted from the document. The file may be empty or scanned")
	}
	if err != nil {
		s.logger.Warn("Failed to extract text", "error", err, "content_type", contentType, "filename", req.Filename)
		return nil, utils.NewBadRequestError("Failed to read the document. The file may be corrupted")
	}

	result, err := s.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	result.Source = req.Filename

	return result, nil
}

func (s *reportService) entitySection(found []entities.Entity, err error) models.EntitySection {
	if err != nil {
		s.metrics.RecordEntityFailure()
		s.logger.Warn("Entity extraction failed, continuing without entities", "error", err)
		return models.EntitySection{
			Status:  models.EntityStatusUnavailable,
			Message: models.EntitiesUnavailableMessage,
			Groups:  []models.EntityGroup{},
		}
	}

	groups := entities.GroupEntities(found)
	if len(groups) == 0 {
		return models.EntitySection{
			Status:  models.EntityStatusNone,
			Message: models.NoEntitiesMessage,
			Groups:  []models.EntityGroup{},
		}
	}

	section := models.EntitySection{
		Status: models.EntityStatusFound,
		Groups: make([]models.EntityGroup, len(groups)),
	}
	for i, g := range groups {
		section.Groups[i] = models.EntityGroup{
			Category: string(g.Category),
			Values:   g.Values,
			Display:  g.Display(),
		}
	}
	return section
}

func (s *reportService) lookup(ctx context.Context, hash string) *models.CachedAnalysis {
	if s.repo == nil {
		return nil
	}

	cached, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		s.logger.Warn("Analysis cache lookup failed", "error", err)
		return nil
	}

	s.metrics.RecordCache(cached != nil)
	return cached
}

func (s *reportService) store(ctx context.Context, hash string, result *models.AnalysisResult) {
	if s.repo == nil {
		return
	}

	err := s.repo.Save(ctx, &models.CachedAnalysis{
		Hash:      hash,
		Entities:  result.Entities,
		Summary:   result.Summary,
		CreatedAt: result.AnalyzedAt,
	})
	if err != nil {
		s.logger.Warn("Failed to cache analysis", "error", err)
	}
}

// complete reports whether every collaborator call behind result succeeded, so that a
// transient failure is never replayed from the cache.
func complete(result *models.AnalysisResult) bool {
	return result.Entities.Status != models.EntityStatusUnavailable &&
		result.Summary.Outcome != string(summarizer.OutcomeFallback) &&
		result.Summary.FailedChunks == 0
}

func hashReport(scope, normalized string) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}
