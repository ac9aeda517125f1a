package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Candle represents one OHLCV bar for a (symbol, timeframe, time) key.
// Candles are written once by the ingestor and never mutated.
type Candle struct {
	Symbol    string
	Timeframe string
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Validate checks OHLC consistency
func (c *Candle) Validate() error {
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Low > lo || hi > c.High {
		return fmt.Errorf("invalid candle %s %s @ %s: low=%f open=%f close=%f high=%f",
			c.Symbol, c.Timeframe, c.Time.Format(time.RFC3339), c.Low, c.Open, c.Close, c.High)
	}
	return nil
}

// InsertCandles inserts a batch of candles, skipping rows whose
// (symbol, timeframe, time) key already exists. Returns the number of rows
// actually inserted. Re-ingesting the same batch is a no-op.
func (db *DB) InsertCandles(ctx context.Context, candles []Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO candles (symbol, timeframe, time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, time) DO NOTHING
	`

	inserted := 0
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return inserted, err
		}
		tag, err := db.pool.Exec(ctx, query,
			c.Symbol, c.Timeframe, c.Time.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert candle: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	log.Debug().
		Str("symbol", candles[0].Symbol).
		Str("timeframe", candles[0].Timeframe).
		Int("batch", len(candles)).
		Int("inserted", inserted).
		Msg("Candles inserted")

	return inserted, nil
}

// GetRecentCandles returns the most recent limit candles for a
// (symbol, timeframe), ordered by time ascending.
func (db *DB) GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	query := `
		SELECT symbol, timeframe, time, open, high, low, close, volume
		FROM (
			SELECT symbol, timeframe, time, open, high, low, close, volume
			FROM candles
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY time DESC
			LIMIT $3
		) recent
		ORDER BY time ASC
	`

	rows, err := db.pool.Query(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Time,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// GetCandleRange returns candles within [from, to], ordered by time ascending
func (db *DB) GetCandleRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	query := `
		SELECT symbol, timeframe, time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC
	`

	rows, err := db.pool.Query(ctx, query, symbol, timeframe, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Time,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// CountCandles returns the number of stored candles for a (symbol, timeframe)
func (db *DB) CountCandles(ctx context.Context, symbol, timeframe string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = $1 AND timeframe = $2`,
		symbol, timeframe).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count candles: %w", err)
	}
	return count, nil
}

// LatestCandleTime returns the newest stored candle time for a
// (symbol, timeframe), or the zero time when no candles exist.
func (db *DB) LatestCandleTime(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var latest *time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT MAX(time) FROM candles WHERE symbol = $1 AND timeframe = $2`,
		symbol, timeframe).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest candle time: %w", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return *latest, nil
}
