// Package ingest pulls candle batches and position lists from the broker
// bridge, normalizes the bridge's loose reply shapes and persists them.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aurictrade/auric/internal/bridge"
	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/metrics"
)

// rateListKeys are the container keys a RATES reply may nest its bars
// under.
var rateListKeys = []string{"rates", "items", "data"}

// BridgeClient is the bridge surface the ingestor uses
type BridgeClient interface {
	Rates(ctx context.Context, symbol, timeframe string, count int) (bridge.Reply, error)
	Positions(ctx context.Context) (bridge.Reply, error)
}

// Store is the persistence surface the ingestor writes to
type Store interface {
	InsertCandles(ctx context.Context, candles []db.Candle) (int, error)
	UpsertPositionSnapshot(ctx context.Context, p *db.PositionSnapshot) error
}

// Ingestor syncs broker data into the database
type Ingestor struct {
	client BridgeClient
	store  Store
	logger zerolog.Logger
}

// New creates an ingestor
func New(client BridgeClient, store Store) *Ingestor {
	return &Ingestor{
		client: client,
		store:  store,
		logger: config.NewLogger("ingest"),
	}
}

// IngestCandles fetches count bars for one cell and persists them.
// Re-ingesting an already stored batch inserts nothing.
func (i *Ingestor) IngestCandles(ctx context.Context, symbol, timeframe string, count int) (int, error) {
	reply, err := i.client.Rates(ctx, symbol, timeframe, count)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch rates for %s/%s: %w", symbol, timeframe, err)
	}

	candles, err := NormalizeRates(reply, symbol, timeframe)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		i.logger.Warn().Str("symbol", symbol).Str("timeframe", timeframe).
			Msg("RATES reply contained no bars")
		return 0, nil
	}

	inserted, err := i.store.InsertCandles(ctx, candles)
	if err != nil {
		return 0, err
	}
	metrics.CandlesIngested.WithLabelValues(symbol, timeframe).Add(float64(inserted))

	i.logger.Debug().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("received", len(candles)).
		Int("inserted", inserted).
		Msg("Candles ingested")
	return inserted, nil
}

// NormalizeRates converts a RATES reply into validated candles. Bars that
// fail OHLC validation are dropped with a log line, not fatal.
func NormalizeRates(reply bridge.Reply, symbol, timeframe string) ([]db.Candle, error) {
	items := reply.List(rateListKeys...)
	if items == nil {
		// Some bridge builds reply with the list at the top level.
		if raw, ok := reply["result"].([]interface{}); ok {
			items = raw
		}
	}
	if items == nil {
		return nil, fmt.Errorf("%w: RATES reply has no bar list", bridge.ErrBadReply)
	}

	candles := make([]db.Candle, 0, len(items))
	for _, item := range items {
		bar, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		candle, err := normalizeBar(bar, symbol, timeframe)
		if err != nil {
			continue
		}
		candles = append(candles, *candle)
	}
	return candles, nil
}

func normalizeBar(bar map[string]interface{}, symbol, timeframe string) (*db.Candle, error) {
	ts, ok := pickFloat(bar, "time", "timestamp")
	if !ok {
		return nil, fmt.Errorf("bar has no time field")
	}
	open, okO := pickFloat(bar, "open")
	high, okH := pickFloat(bar, "high")
	low, okL := pickFloat(bar, "low")
	closePrice, okC := pickFloat(bar, "close")
	if !okO || !okH || !okL || !okC {
		return nil, fmt.Errorf("bar is missing OHLC fields")
	}
	volume, _ := pickFloat(bar, "tick_volume", "volume")

	c := db.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Time:      time.Unix(int64(ts), 0).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SyncPositions fetches open positions and upserts a snapshot per ticket
func (i *Ingestor) SyncPositions(ctx context.Context, accountID string) (int, error) {
	reply, err := i.client.Positions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch positions: %w", err)
	}

	items := reply.List("positions", "items", "data")
	if items == nil {
		return 0, nil
	}

	now := time.Now().UTC()
	synced := 0
	for _, item := range items {
		raw, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		snapshot, err := normalizePosition(raw, accountID, now)
		if err != nil {
			i.logger.Warn().Err(err).Msg("Skipping malformed position record")
			continue
		}
		if err := i.store.UpsertPositionSnapshot(ctx, snapshot); err != nil {
			return synced, err
		}
		synced++
	}

	i.logger.Debug().Str("account_id", accountID).Int("synced", synced).
		Msg("Positions synced")
	return synced, nil
}

func normalizePosition(raw map[string]interface{}, accountID string, now time.Time) (*db.PositionSnapshot, error) {
	ticket, ok := pickFloat(raw, "ticket", "id")
	if !ok {
		return nil, fmt.Errorf("position has no ticket")
	}
	symbol, _ := raw["symbol"].(string)
	if symbol == "" {
		return nil, fmt.Errorf("position %d has no symbol", int64(ticket))
	}

	side := db.OrderSideBuy
	if s, ok := raw["side"].(string); ok && (s == "SELL" || s == "sell") {
		side = db.OrderSideSell
	} else if t, ok := pickFloat(raw, "type"); ok && int(t) == 1 {
		// MT5 numeric position type: 0 buy, 1 sell.
		side = db.OrderSideSell
	}

	volume, _ := pickFloat(raw, "volume")
	openPrice, _ := pickFloat(raw, "open_price", "price_open")
	profit, _ := pickFloat(raw, "profit")
	swap, _ := pickFloat(raw, "swap")
	commission, _ := pickFloat(raw, "commission")

	p := &db.PositionSnapshot{
		AccountID:  accountID,
		Ticket:     int64(ticket),
		Symbol:     symbol,
		Side:       side,
		Volume:     volume,
		OpenPrice:  openPrice,
		Profit:     profit,
		Swap:       swap,
		Commission: commission,
		SyncedAt:   now,
	}

	if sl, ok := pickFloat(raw, "sl"); ok && sl != 0 {
		p.SL = &sl
	}
	if tp, ok := pickFloat(raw, "tp"); ok && tp != 0 {
		p.TP = &tp
	}
	if ot, ok := pickFloat(raw, "open_time", "time"); ok {
		openTime := time.Unix(int64(ot), 0).UTC()
		p.OpenTime = &openTime
	}
	if magic, ok := pickFloat(raw, "magic"); ok {
		m := int64(magic)
		p.Magic = &m
	}
	if comment, ok := raw["comment"].(string); ok && comment != "" {
		p.Comment = &comment
	}
	return p, nil
}

func pickFloat(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
