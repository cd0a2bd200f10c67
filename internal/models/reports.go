package models

import (
	"time"
)

const (
	Disclaimer = "This summary is for informational purposes only and does not constitute medical advice or diagnosis."

	EmptyReportMessage          = "Please paste a medical report to analyze."
	NoEntitiesMessage           = "No relevant entities detected."
	EntitiesUnavailableMessage  = "Entity extraction is currently unavailable."
	EntityExtractionFailMessage = "Failed to extract entities"
)

type EntityStatus string

const (
	EntityStatusFound       EntityStatus = "found"
	EntityStatusNone        EntityStatus = "none"
	EntityStatusUnavailable EntityStatus = "unavailable"
)

type AnalyzeRequest struct {
	Text  string `json:"text"`
	Debug bool   `json:"debug"`
}

type UploadRequest struct {
	File        []byte
	Filename    string
	ContentType string
	Debug       bool
}

type EntityGroup struct {
	Category string   `json:"category"`
	Values   []string `json:"values"`
	Display  string   `json:"display"`
}

type EntitySection struct {
	Status  EntityStatus  `json:"status"`
	Message string        `json:"message,omitempty"`
	Groups  []EntityGroup `json:"groups"`
}

type Summary struct {
	Text         string `json:"text"`
	Outcome      string `json:"outcome"`
	Chunks       int    `json:"chunks"`
	FailedChunks int    `json:"failed_chunks"`
}

// AnalysisResult is rendered in field order: entities, summary, disclaimer, then debug and metadata.
type AnalysisResult struct {
	Entities       EntitySection `json:"entities"`
	Summary        Summary       `json:"summary"`
	Disclaimer     string        `json:"disclaimer"`
	NormalizedText string        `json:"normalized_text,omitempty"`
	ID             string        `json:"id"`
	Source         string        `json:"source,omitempty"`
	Cached         bool          `json:"cached"`
	AnalyzedAt     time.Time     `json:"analyzed_at"`
}

// CachedAnalysis is the persisted form of a deterministic analysis, keyed by the
// SHA-256 of the normalized report. The report text itself is never stored.
type CachedAnalysis struct {
	Hash      string        `json:"hash" db:"hash"`
	Entities  EntitySection `json:"entities" db:"-"`
	Summary   Summary       `json:"summary" db:"-"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

type HealthResponse struct {
	Status     string          `json:"status"`
	Summarizer string          `json:"summarizer"`
	Tokenizer  string          `json:"tokenizer"`
	Cache      bool            `json:"cache"`
	Circuits   []CircuitStatus `json:"circuits,omitempty"`
}

// CircuitStatus is the breaker state of one collaborator: "closed" or "open".
type CircuitStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}
