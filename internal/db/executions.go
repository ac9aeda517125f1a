package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OrderSide represents buy or sell (database enum)
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ExecutionStatus represents the outcome of one order attempt
type ExecutionStatus string

const (
	ExecutionStatusSimulated ExecutionStatus = "simulated"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusBlocked   ExecutionStatus = "blocked"
	ExecutionStatusError     ExecutionStatus = "error"
)

// ExecutionEvent is the append-only audit record of one order attempt.
// Every attempt produces exactly one event.
type ExecutionEvent struct {
	ID              uuid.UUID
	CreatedAt       time.Time
	UserID          *uuid.UUID
	Source          string
	Symbol          string
	Side            OrderSide
	Volume          float64
	RequestedPrice  *float64
	SL              *float64
	TP              *float64
	Status          ExecutionStatus
	Ticket          *int64
	FillPrice       *float64
	Slippage        *float64
	LatencyMS       *int64
	BridgeConnected bool
	Error           *string
	Request         map[string]interface{}
	Response        map[string]interface{}
}

// InsertExecutionEvent appends an execution event
func (db *DB) InsertExecutionEvent(ctx context.Context, ev *ExecutionEvent) error {
	query := `
		INSERT INTO execution_events (
			id, created_at, user_id, source, symbol, side, volume,
			requested_price, sl, tp, status, ticket, fill_price, slippage,
			latency_ms, bridge_connected, error, request, response
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19
		)
	`

	_, err := db.pool.Exec(ctx, query,
		ev.ID, ev.CreatedAt, ev.UserID, ev.Source, ev.Symbol, ev.Side, ev.Volume,
		ev.RequestedPrice, ev.SL, ev.TP, ev.Status, ev.Ticket, ev.FillPrice,
		ev.Slippage, ev.LatencyMS, ev.BridgeConnected, ev.Error, ev.Request, ev.Response,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", ev.ID.String()).
			Str("symbol", ev.Symbol).
			Msg("Failed to insert execution event")
		return fmt.Errorf("failed to insert execution event: %w", err)
	}

	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("symbol", ev.Symbol).
		Str("status", string(ev.Status)).
		Msg("Execution event recorded")

	return nil
}

// CountExecutionsSince counts order attempts for a user since the given time.
// Governance uses it as the cross-replica rate-limit counter.
func (db *DB) CountExecutionsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM execution_events WHERE user_id = $1 AND created_at >= $2`,
		userID, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// CountViolationsSince counts blocked and errored events since the given time
func (db *DB) CountViolationsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM execution_events
		 WHERE status IN ('blocked', 'error') AND created_at >= $1`,
		since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return count, nil
}

// GetRecentExecutionEvents returns recent events, newest first
func (db *DB) GetRecentExecutionEvents(ctx context.Context, limit int) ([]*ExecutionEvent, error) {
	query := `
		SELECT id, created_at, user_id, source, symbol, side, volume,
		       requested_price, sl, tp, status, ticket, fill_price, slippage,
		       latency_ms, bridge_connected, error, request, response
		FROM execution_events
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution events: %w", err)
	}
	defer rows.Close()

	var events []*ExecutionEvent
	for rows.Next() {
		var ev ExecutionEvent
		if err := rows.Scan(
			&ev.ID, &ev.CreatedAt, &ev.UserID, &ev.Source, &ev.Symbol, &ev.Side,
			&ev.Volume, &ev.RequestedPrice, &ev.SL, &ev.TP, &ev.Status, &ev.Ticket,
			&ev.FillPrice, &ev.Slippage, &ev.LatencyMS, &ev.BridgeConnected,
			&ev.Error, &ev.Request, &ev.Response,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution events: %w", err)
	}

	return events, nil
}
