package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// ModelType identifies the artifact family of a registered model
type ModelType string

const (
	ModelTypeXGBoost  ModelType = "xgboost"
	ModelTypeLightGBM ModelType = "lightgbm"
	ModelTypeLSTM     ModelType = "lstm"
)

// ModelRegistryEntry is one registered model artifact. At most one entry is
// active per (model_type, symbol, timeframe).
type ModelRegistryEntry struct {
	ID           int64
	ModelType    ModelType
	Symbol       string
	Timeframe    string
	Version      string
	ArtifactPath string
	Metrics      map[string]interface{}
	IsActive     bool
	CreatedAt    time.Time
}

// GetActiveModel returns the active registry row for a
// (model_type, symbol, timeframe), or nil when none is active.
func (db *DB) GetActiveModel(ctx context.Context, modelType ModelType, symbol, timeframe string) (*ModelRegistryEntry, error) {
	query := `
		SELECT id, model_type, symbol, timeframe, version, artifact_path,
		       metrics, is_active, created_at
		FROM model_registry
		WHERE model_type = $1 AND symbol = $2 AND timeframe = $3 AND is_active = TRUE
	`

	var e ModelRegistryEntry
	err := db.pool.QueryRow(ctx, query, modelType, symbol, timeframe).Scan(
		&e.ID, &e.ModelType, &e.Symbol, &e.Timeframe, &e.Version,
		&e.ArtifactPath, &e.Metrics, &e.IsActive, &e.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active model: %w", err)
	}

	return &e, nil
}

// RegisterModel inserts a registry entry and, when active, atomically
// deactivates the previous active entry for the same key.
func (db *DB) RegisterModel(ctx context.Context, e *ModelRegistryEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin registry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if e.IsActive {
		if _, err := tx.Exec(ctx,
			`UPDATE model_registry SET is_active = FALSE
			 WHERE model_type = $1 AND symbol = $2 AND timeframe = $3 AND is_active = TRUE`,
			e.ModelType, e.Symbol, e.Timeframe,
		); err != nil {
			return fmt.Errorf("failed to deactivate previous model: %w", err)
		}
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO model_registry (
			model_type, symbol, timeframe, version, artifact_path, metrics, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		e.ModelType, e.Symbol, e.Timeframe, e.Version, e.ArtifactPath,
		e.Metrics, e.IsActive, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert registry entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit registry entry: %w", err)
	}

	log.Info().
		Str("model_type", string(e.ModelType)).
		Str("symbol", e.Symbol).
		Str("timeframe", e.Timeframe).
		Str("version", e.Version).
		Bool("is_active", e.IsActive).
		Msg("Model registered")

	return nil
}
