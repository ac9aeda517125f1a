package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// SignalSource identifies what produced a trading signal
type SignalSource string

const (
	SignalSourceEngine  SignalSource = "engine"
	SignalSourceScanner SignalSource = "scanner"
	SignalSourceWebhook SignalSource = "webhook"
)

// SignalAction is the recommended action of a trading signal
type SignalAction string

const (
	ActionBuy        SignalAction = "BUY"
	ActionSell       SignalAction = "SELL"
	ActionNeutral    SignalAction = "NEUTRAL"
	ActionWait       SignalAction = "WAIT"
	ActionStrongBuy  SignalAction = "STRONG_BUY"
	ActionStrongSell SignalAction = "STRONG_SELL"
)

// IsTradable reports whether the action maps to an order side
func (a SignalAction) IsTradable() bool {
	switch a {
	case ActionBuy, ActionSell, ActionStrongBuy, ActionStrongSell:
		return true
	}
	return false
}

// Side returns the order side for a tradable action
func (a SignalAction) Side() OrderSide {
	switch a {
	case ActionBuy, ActionStrongBuy:
		return OrderSideBuy
	default:
		return OrderSideSell
	}
}

// TradingSignal is a persisted, scored action recommendation for one
// (symbol, timeframe) cell. Context preserves the regime and intermediate
// scores for later audit.
type TradingSignal struct {
	ID          uuid.UUID
	UserID      *uuid.UUID
	Source      SignalSource
	Symbol      string
	Timeframe   string
	Action      SignalAction
	Confidence  float64 // 0..100
	Score       float64
	EntryPrice  *float64
	SuggestedSL *float64
	SuggestedTP *float64
	Reasons     []string
	Context     map[string]interface{}
	CreatedAt   time.Time
}

const signalColumns = `id, user_id, source, symbol, timeframe, action, confidence,
	score, entry_price, suggested_sl, suggested_tp, reasons, context, created_at`

// InsertSignalsTx persists a batch of signals inside one transaction so a
// scan commits atomically.
func (db *DB) InsertSignalsTx(ctx context.Context, signals []*TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin signals transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO trading_signals (` + signalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	for _, s := range signals {
		if _, err := tx.Exec(ctx, query,
			s.ID, s.UserID, s.Source, s.Symbol, s.Timeframe, s.Action,
			s.Confidence, s.Score, s.EntryPrice, s.SuggestedSL, s.SuggestedTP,
			s.Reasons, s.Context, s.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert signal %s/%s: %w", s.Symbol, s.Timeframe, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit signals: %w", err)
	}

	log.Debug().Int("count", len(signals)).Msg("Trading signals persisted")
	return nil
}

// GetLatestSignals returns the most recent signals ordered by score descending
func (db *DB) GetLatestSignals(ctx context.Context, since time.Time, limit int) ([]*TradingSignal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM trading_signals
		WHERE created_at >= $1
		ORDER BY score DESC, created_at DESC
		LIMIT $2
	`

	rows, err := db.pool.Query(ctx, query, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// GetBestEligibleSignal returns the highest-scoring tradable signal created
// at or after since that clears the score and confidence floors, or nil
// when none qualifies.
func (db *DB) GetBestEligibleSignal(ctx context.Context, since time.Time, minScore, minConfidence float64) (*TradingSignal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM trading_signals
		WHERE created_at >= $1
		  AND action IN ('BUY', 'SELL', 'STRONG_BUY', 'STRONG_SELL')
		  AND score >= $2
		  AND confidence >= $3
		ORDER BY score DESC, created_at DESC
		LIMIT 1
	`

	rows, err := db.pool.Query(ctx, query, since.UTC(), minScore, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query best signal: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignals(rows)
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, nil
	}
	return signals[0], nil
}

func scanSignals(rows pgx.Rows) ([]*TradingSignal, error) {
	var signals []*TradingSignal
	for rows.Next() {
		var s TradingSignal
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Source, &s.Symbol, &s.Timeframe, &s.Action,
			&s.Confidence, &s.Score, &s.EntryPrice, &s.SuggestedSL, &s.SuggestedTP,
			&s.Reasons, &s.Context, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return signals, nil
}
