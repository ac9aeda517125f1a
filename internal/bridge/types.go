// Package bridge is the client for the MT5 broker bridge: a strict
// request/reply, newline-delimited JSON protocol over one persistent TCP
// connection. One request is in flight at a time; the connection is
// guarded by a mutex.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action is the bridge request verb
type Action string

const (
	ActionPing         Action = "PING"
	ActionAccountInfo  Action = "ACCOUNT_INFO"
	ActionGetOrders    Action = "GET_ORDERS"
	ActionGetPositions Action = "GET_POSITIONS"
	ActionRates        Action = "RATES"
	ActionSendOrder    Action = "SEND_ORDER"
)

// Sentinel errors callers branch on
var (
	ErrTimeout  = errors.New("bridge timeout")
	ErrBadReply = errors.New("unparseable bridge reply")
)

// Request is one bridge call. Zero-valued optional fields are omitted
// from the wire message.
type Request struct {
	Action    Action  `json:"action"`
	Symbol    string  `json:"symbol,omitempty"`
	Timeframe string  `json:"timeframe,omitempty"`
	Count     int     `json:"count,omitempty"`
	Type      string  `json:"type,omitempty"` // BUY or SELL
	Volume    float64 `json:"volume,omitempty"`
	SL        float64 `json:"sl,omitempty"`
	TP        float64 `json:"tp,omitempty"`
}

// Reply is the raw decoded bridge response. Accessors normalize the
// bridge's inconsistent key conventions.
type Reply map[string]interface{}

// Err returns the reply-level error message, if any
func (r Reply) Err() string {
	if msg, ok := r["error"].(string); ok {
		return msg
	}
	return ""
}

// firstKey returns the first present key's value
func (r Reply) firstKey(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Ticket extracts the order ticket from any of the bridge's conventional
// keys.
func (r Reply) Ticket() (int64, bool) {
	v, ok := r.firstKey("ticket", "order", "deal", "id")
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// FillPrice extracts the fill price from any conventional key
func (r Reply) FillPrice() (float64, bool) {
	v, ok := r.firstKey("fill_price", "filled_price", "price")
	if !ok {
		return 0, false
	}
	f, ok := toFloat64(v)
	return f, ok
}

// List extracts the payload list, either top-level or nested under one of
// the conventional container keys.
func (r Reply) List(nestedKeys ...string) []interface{} {
	for _, k := range nestedKeys {
		if items, ok := r[k].([]interface{}); ok {
			return items
		}
	}
	return nil
}

// OrderError is a reply-level order rejection. Temporary rejections are
// retried by the executor.
type OrderError struct {
	Message string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Message)
}

// transientPhrases are the MT5 rejection wordings worth retrying
var transientPhrases = []string{
	"requote", "price changed", "trade context busy", "timeout",
	"no connection", "too many requests",
}

// Temporary reports whether the rejection is worth retrying
func (e *OrderError) Temporary() bool {
	msg := strings.ToLower(e.Message)
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Retryable classifies a bridge error: timeouts, connection failures and
// temporary order rejections are retryable; protocol errors are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, ErrBadReply) {
		return false
	}
	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		return orderErr.Temporary()
	}
	// Anything else is a transport failure: connection refused, reset,
	// broken pipe. The next attempt reconnects.
	return true
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		var i int64
		_, err := fmt.Sscanf(n, "%d", &i)
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var f float64
		_, err := fmt.Sscanf(n, "%f", &f)
		return f, err == nil
	}
	return 0, false
}
