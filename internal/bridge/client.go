package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/metrics"
)

// maxReplyBytes bounds one reply line; RATES batches are the largest
const maxReplyBytes = 8 << 20

// Client is the persistent bridge connection. All calls serialize on one
// mutex because the bridge answers strictly one request at a time.
type Client struct {
	cfg    config.BridgeConfig
	logger zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	connected atomic.Bool
	dial      func(ctx context.Context, addr string) (net.Conn, error)
}

// NewClient creates a bridge client. The connection is established lazily
// on the first call and re-established after any transport failure.
func NewClient(cfg config.BridgeConfig) *Client {
	return &Client{
		cfg:    cfg,
		logger: config.NewLogger("bridge"),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Connected reports whether the last call completed successfully
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close tears down the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.connected.Store(false)
}

// Call sends one request and waits at most timeout for the reply line
func (c *Client) Call(ctx context.Context, req Request, timeout time.Duration) (Reply, error) {
	reply, err := c.call(ctx, req, timeout)

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.BridgeCalls.WithLabelValues(string(req.Action), outcome).Inc()
	if c.connected.Load() {
		metrics.BridgeConnected.Set(1)
	} else {
		metrics.BridgeConnected.Set(0)
	}
	return reply, err
}

func (c *Client) call(ctx context.Context, req Request, timeout time.Duration) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := c.dial(ctx, c.cfg.GetBridgeAddr())
		if err != nil {
			c.connected.Store(false)
			return nil, fmt.Errorf("failed to connect to bridge: %w", err)
		}
		c.conn = conn
		c.reader = bufio.NewReaderSize(conn, 64<<10)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("failed to set bridge deadline: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bridge request: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := c.conn.Write(payload); err != nil {
		c.dropLocked()
		return nil, c.classify(err, req.Action)
	}

	line, err := c.readLine()
	if err != nil {
		c.dropLocked()
		return nil, c.classify(err, req.Action)
	}

	var reply Reply
	if err := json.Unmarshal(line, &reply); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}

	c.connected.Store(true)
	return reply, nil
}

func (c *Client) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxReplyBytes {
			return nil, fmt.Errorf("%w: reply exceeds %d bytes", ErrBadReply, maxReplyBytes)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func (c *Client) classify(err error, action Action) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		c.logger.Warn().Str("action", string(action)).Msg("Bridge call timed out")
		return fmt.Errorf("%w: %s", ErrTimeout, action)
	}
	return fmt.Errorf("bridge %s failed: %w", action, err)
}

// Ping checks bridge liveness with the short ping timeout
func (c *Client) Ping(ctx context.Context) bool {
	reply, err := c.Call(ctx, Request{Action: ActionPing},
		time.Duration(c.cfg.PingTimeoutMS)*time.Millisecond)
	return err == nil && reply.Err() == ""
}

// Rates fetches count bars of (symbol, timeframe)
func (c *Client) Rates(ctx context.Context, symbol, timeframe string, count int) (Reply, error) {
	reply, err := c.Call(ctx, Request{
		Action:    ActionRates,
		Symbol:    symbol,
		Timeframe: timeframe,
		Count:     count,
	}, time.Duration(c.cfg.RatesTimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if msg := reply.Err(); msg != "" {
		return nil, fmt.Errorf("bridge RATES error: %s", msg)
	}
	return reply, nil
}

// Positions fetches the open position list
func (c *Client) Positions(ctx context.Context) (Reply, error) {
	reply, err := c.Call(ctx, Request{Action: ActionGetPositions},
		time.Duration(c.cfg.PosTimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if msg := reply.Err(); msg != "" {
		return nil, fmt.Errorf("bridge GET_POSITIONS error: %s", msg)
	}
	return reply, nil
}

// AccountInfo fetches the broker account snapshot
func (c *Client) AccountInfo(ctx context.Context) (Reply, error) {
	reply, err := c.Call(ctx, Request{Action: ActionAccountInfo},
		time.Duration(c.cfg.PosTimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if msg := reply.Err(); msg != "" {
		return nil, fmt.Errorf("bridge ACCOUNT_INFO error: %s", msg)
	}
	return reply, nil
}

// OrderResult is a normalized successful SEND_ORDER reply
type OrderResult struct {
	Ticket    int64
	FillPrice float64
	Raw       Reply
}

// SendOrder submits one market order and normalizes the reply. Reply-level
// rejections come back as *OrderError.
func (c *Client) SendOrder(ctx context.Context, symbol, side string, volume, sl, tp float64, timeout time.Duration) (*OrderResult, error) {
	reply, err := c.Call(ctx, Request{
		Action: ActionSendOrder,
		Symbol: symbol,
		Type:   side,
		Volume: volume,
		SL:     sl,
		TP:     tp,
	}, timeout)
	if err != nil {
		return nil, err
	}

	if msg := reply.Err(); msg != "" {
		return nil, &OrderError{Message: msg}
	}

	ticket, ok := reply.Ticket()
	if !ok {
		return nil, fmt.Errorf("%w: SEND_ORDER reply has no ticket", ErrBadReply)
	}
	fill, _ := reply.FillPrice()

	return &OrderResult{Ticket: ticket, FillPrice: fill, Raw: reply}, nil
}
