package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"homeserverd/internal/eventbus"
	"homeserverd/pkg/logx"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPongWait  = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is handled by the CORS layer for REST; the dashboard is
	// same-host, so the websocket accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// envelope is the wire form of an event sent to a websocket client.
type envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// clientMessage is what clients may send; only ping is recognized.
type clientMessage struct {
	Type string `json:"type"`
}

// handleStream upgrades the connection and forwards bus events until the
// client goes away. Each connection is one bus observer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}

	events, unsubscribe := s.bus.Subscribe(streamBuffer)
	defer unsubscribe()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))

	// Reader: consumes client pings and detects disconnects. All writes stay
	// in the loop below, so the connection never has two writers.
	done := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
			var msg clientMessage
			if json.Unmarshal(raw, &msg) == nil && msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-pings:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(envelope{Type: "pong", Timestamp: time.Now()}); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(toEnvelope(ev)); err != nil {
				s.log.Debug("websocket send failed", logx.Err(err))
				return
			}
		}
	}
}

func toEnvelope(ev eventbus.Event) envelope {
	return envelope{Type: ev.Type, Data: ev.Data, Timestamp: ev.Time}
}
