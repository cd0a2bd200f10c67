package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/models"
)

// Repository stores finished analyses so identical reports are not summarized twice.
type Repository interface {
	GetByHash(ctx context.Context, hash string) (*models.CachedAnalysis, error)
	Save(ctx context.Context, analysis *models.CachedAnalysis) error
}

type analysisRow struct {
	Hash      string    `db:"hash"`
	Entities  string    `db:"entities"`
	Summary   string    `db:"summary"`
	CreatedAt time.Time `db:"created_at"`
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByHash(ctx context.Context, hash string) (*models.CachedAnalysis, error) {
	var row analysisRow

	query := `
		SELECT hash, entities, summary, created_at
		FROM analyses
		WHERE hash = ?
	`

	err := r.db.GetContext(ctx, &row, query, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	analysis := &models.CachedAnalysis{
		Hash:      row.Hash,
		CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.Entities), &analysis.Entities); err != nil {
		return nil, fmt.Errorf("failed to decode cached entities: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Summary), &analysis.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode cached summary: %w", err)
	}

	return analysis, nil
}

func (r *repository) Save(ctx context.Context, analysis *models.CachedAnalysis) error {
	entitiesJSON, err := json.Marshal(analysis.Entities)
	if err != nil {
		return err
	}
	summaryJSON, err := json.Marshal(analysis.Summary)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analyses (hash, entities, summary, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE
		SET entities = excluded.entities, summary = excluded.summary, created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, query,
		analysis.Hash,
		string(entitiesJSON),
		string(summaryJSON),
		analysis.CreatedAt,
	)

	return err
}
