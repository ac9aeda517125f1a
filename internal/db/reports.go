package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// PredictiveReport holds the walk-forward and Monte Carlo quality metrics
// governance reads to gate automation.
type PredictiveReport struct {
	ID             int64
	Symbol         string
	Timeframe      string
	WFSharpe       float64
	WFWinrate      float64
	WFAvgReturn    float64
	MCMaxDD        float64
	MCVaR95        float64
	DriftScore     float64
	StabilityScore float64
	Meta           map[string]interface{}
	CreatedAt      time.Time
}

// InsertPredictiveReport appends a report
func (db *DB) InsertPredictiveReport(ctx context.Context, r *PredictiveReport) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO predictive_reports (
			symbol, timeframe, wf_sharpe, wf_winrate, wf_avg_return,
			mc_max_dd, mc_var_95, drift_score, stability_score, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		r.Symbol, r.Timeframe, r.WFSharpe, r.WFWinrate, r.WFAvgReturn,
		r.MCMaxDD, r.MCVaR95, r.DriftScore, r.StabilityScore, r.Meta, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to insert predictive report: %w", err)
	}

	log.Info().
		Str("symbol", r.Symbol).
		Str("timeframe", r.Timeframe).
		Float64("stability_score", r.StabilityScore).
		Msg("Predictive report persisted")

	return nil
}

// GetLatestPredictiveReport returns the newest report for a
// (symbol, timeframe), or nil when none exists.
func (db *DB) GetLatestPredictiveReport(ctx context.Context, symbol, timeframe string) (*PredictiveReport, error) {
	query := `
		SELECT id, symbol, timeframe, wf_sharpe, wf_winrate, wf_avg_return,
		       mc_max_dd, mc_var_95, drift_score, stability_score, meta, created_at
		FROM predictive_reports
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var r PredictiveReport
	err := db.pool.QueryRow(ctx, query, symbol, timeframe).Scan(
		&r.ID, &r.Symbol, &r.Timeframe, &r.WFSharpe, &r.WFWinrate, &r.WFAvgReturn,
		&r.MCMaxDD, &r.MCVaR95, &r.DriftScore, &r.StabilityScore, &r.Meta, &r.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query predictive report: %w", err)
	}

	return &r, nil
}
