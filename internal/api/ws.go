package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aurictrade/auric/internal/bus"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingEvery    = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser dashboards connect cross-origin; auth sits in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleActivityStream upgrades the connection and relays bus events as
// activity envelopes until either side goes away. A client that cannot
// keep up is dropped by the bus, which closes the stream.
func (s *Server) handleActivityStream(c *gin.Context) {
	if s.deps.Bus == nil {
		fail(c, http.StatusServiceUnavailable, "activity_stream_disabled")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	events := s.deps.Bus.Subscribe(ctx)
	s.logger.Debug().Str("client_ip", c.ClientIP()).Msg("Activity stream opened")

	// Reader goroutine: we never expect client frames, but reading is
	// what surfaces close frames and connection loss.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				s.logger.Debug().Msg("Activity stream closed by bus")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(activityEnvelope(event)); err != nil {
				return
			}
		}
	}
}

// activityEnvelope wraps a bus event in the wire shape clients consume
func activityEnvelope(event bus.Event) map[string]interface{} {
	return map[string]interface{}{
		"type":      "activity",
		"payload":   map[string]interface{}{"event": event.Type, "data": event.Payload},
		"timestamp": event.Timestamp,
	}
}
