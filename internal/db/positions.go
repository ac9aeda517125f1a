package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// PositionSnapshot is the latest known state of one broker position,
// keyed by (account_id, ticket). Upserted on sync, never removed.
type PositionSnapshot struct {
	AccountID  string
	Ticket     int64
	Symbol     string
	Side       OrderSide
	Volume     float64
	OpenPrice  float64
	SL         *float64
	TP         *float64
	Profit     float64
	Swap       float64
	Commission float64
	OpenTime   *time.Time
	Magic      *int64
	Comment    *string
	SyncedAt   time.Time
}

// UpsertPositionSnapshot inserts or replaces the snapshot for one position
func (db *DB) UpsertPositionSnapshot(ctx context.Context, p *PositionSnapshot) error {
	query := `
		INSERT INTO mt5_position_snapshots (
			account_id, ticket, symbol, side, volume, open_price, sl, tp,
			profit, swap, commission, open_time, magic, comment, synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (account_id, ticket) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			side = EXCLUDED.side,
			volume = EXCLUDED.volume,
			open_price = EXCLUDED.open_price,
			sl = EXCLUDED.sl,
			tp = EXCLUDED.tp,
			profit = EXCLUDED.profit,
			swap = EXCLUDED.swap,
			commission = EXCLUDED.commission,
			open_time = EXCLUDED.open_time,
			magic = EXCLUDED.magic,
			comment = EXCLUDED.comment,
			synced_at = EXCLUDED.synced_at
	`

	_, err := db.pool.Exec(ctx, query,
		p.AccountID, p.Ticket, p.Symbol, p.Side, p.Volume, p.OpenPrice,
		p.SL, p.TP, p.Profit, p.Swap, p.Commission, p.OpenTime,
		p.Magic, p.Comment, p.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position snapshot: %w", err)
	}

	log.Debug().
		Str("account_id", p.AccountID).
		Int64("ticket", p.Ticket).
		Str("symbol", p.Symbol).
		Msg("Position snapshot upserted")

	return nil
}

// GetPositionSnapshots returns all snapshots for an account
func (db *DB) GetPositionSnapshots(ctx context.Context, accountID string) ([]*PositionSnapshot, error) {
	query := `
		SELECT account_id, ticket, symbol, side, volume, open_price, sl, tp,
		       profit, swap, commission, open_time, magic, comment, synced_at
		FROM mt5_position_snapshots
		WHERE account_id = $1
		ORDER BY ticket ASC
	`

	rows, err := db.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query position snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*PositionSnapshot
	for rows.Next() {
		var p PositionSnapshot
		if err := rows.Scan(
			&p.AccountID, &p.Ticket, &p.Symbol, &p.Side, &p.Volume, &p.OpenPrice,
			&p.SL, &p.TP, &p.Profit, &p.Swap, &p.Commission, &p.OpenTime,
			&p.Magic, &p.Comment, &p.SyncedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position snapshot: %w", err)
		}
		snapshots = append(snapshots, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position snapshots: %w", err)
	}

	return snapshots, nil
}
