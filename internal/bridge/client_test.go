package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurictrade/auric/internal/config"
)

// fakeBridge answers newline-delimited JSON requests with canned replies
// keyed by action.
type fakeBridge struct {
	listener net.Listener
	replies  map[Action]string
	delay    time.Duration
}

func startFakeBridge(t *testing.T, replies map[Action]string, delay time.Duration) *fakeBridge {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fb := &fakeBridge{listener: listener, replies: replies, delay: delay}
	go fb.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return fb
}

func (fb *fakeBridge) serve() {
	for {
		conn, err := fb.listener.Accept()
		if err != nil {
			return
		}
		go fb.handle(conn)
	}
}

func (fb *fakeBridge) handle(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		time.Sleep(fb.delay)
		reply, ok := fb.replies[req.Action]
		if !ok {
			reply = `{"error":"unknown action"}`
		}
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}

func (fb *fakeBridge) clientFor(t *testing.T) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(fb.listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(config.BridgeConfig{
		Host: host, Port: port,
		PingTimeoutMS: 800, RatesTimeoutMS: 3500, PosTimeoutMS: 2500,
	})
	t.Cleanup(c.Close)
	return c
}

func TestPingRoundTrip(t *testing.T) {
	fb := startFakeBridge(t, map[Action]string{
		ActionPing: `{"status":"ok"}`,
	}, 0)
	c := fb.clientFor(t)

	assert.True(t, c.Ping(context.Background()))
	assert.True(t, c.Connected())
}

func TestCallTimeoutClassified(t *testing.T) {
	fb := startFakeBridge(t, map[Action]string{
		ActionPing: `{"status":"ok"}`,
	}, 500*time.Millisecond)
	c := fb.clientFor(t)

	_, err := c.Call(context.Background(), Request{Action: ActionPing}, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))
	assert.False(t, c.Connected())
}

func TestSendOrderNormalizesReplyKeys(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"canonical keys", `{"ticket": 123456, "fill_price": 1950.25}`},
		{"order and price", `{"order": 123456, "price": 1950.25}`},
		{"deal and filled_price", `{"deal": 123456, "filled_price": 1950.25}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := startFakeBridge(t, map[Action]string{ActionSendOrder: tt.reply}, 0)
			c := fb.clientFor(t)

			res, err := c.SendOrder(context.Background(), "XAUUSD", "BUY", 0.1, 1940, 1970, time.Second)
			require.NoError(t, err)
			assert.Equal(t, int64(123456), res.Ticket)
			assert.InDelta(t, 1950.25, res.FillPrice, 1e-9)
		})
	}
}

func TestSendOrderRejection(t *testing.T) {
	fb := startFakeBridge(t, map[Action]string{
		ActionSendOrder: `{"error":"trade context busy"}`,
	}, 0)
	c := fb.clientFor(t)

	_, err := c.SendOrder(context.Background(), "XAUUSD", "BUY", 0.1, 0, 0, time.Second)
	require.Error(t, err)

	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.True(t, orderErr.Temporary())
	assert.True(t, Retryable(err))
}

func TestSendOrderPermanentRejectionNotRetryable(t *testing.T) {
	fb := startFakeBridge(t, map[Action]string{
		ActionSendOrder: `{"error":"invalid volume"}`,
	}, 0)
	c := fb.clientFor(t)

	_, err := c.SendOrder(context.Background(), "XAUUSD", "BUY", -1, 0, 0, time.Second)
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestRatesNestedList(t *testing.T) {
	fb := startFakeBridge(t, map[Action]string{
		ActionRates: `{"rates":[{"time":1717286400,"open":1950,"high":1951,"low":1949,"close":1950.5,"tick_volume":321}]}`,
	}, 0)
	c := fb.clientFor(t)

	reply, err := c.Rates(context.Background(), "XAUUSD", "M15", 100)
	require.NoError(t, err)

	items := reply.List("rates", "items", "data")
	require.Len(t, items, 1)
}

func TestReplyTicketKeyPrecedence(t *testing.T) {
	r := Reply{"ticket": float64(1), "order": float64(2)}
	ticket, ok := r.Ticket()
	require.True(t, ok)
	assert.Equal(t, int64(1), ticket)

	r = Reply{"id": "987"}
	ticket, ok = r.Ticket()
	require.True(t, ok)
	assert.Equal(t, int64(987), ticket)

	_, ok = Reply{}.Ticket()
	assert.False(t, ok)
}

func TestConnectionFailureRetryable(t *testing.T) {
	c := NewClient(config.BridgeConfig{Host: "127.0.0.1", Port: 1, PingTimeoutMS: 100})
	t.Cleanup(c.Close)

	_, err := c.Call(context.Background(), Request{Action: ActionPing}, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, Retryable(err))
	assert.False(t, c.Connected())
}
