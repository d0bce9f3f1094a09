package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lunaform/switchboard/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards connect from arbitrary origins; the socket is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

// handleStream upgrades to a websocket and forwards the event, match, and
// status feeds until the client goes away. Each envelope is one JSON
// message; a slow client misses messages rather than stalling the bus.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancelEvents := s.bus.Subscribe(bus.TopicEvents, 64)
	defer cancelEvents()
	matches, cancelMatches := s.bus.Subscribe(bus.TopicMatches, 64)
	defer cancelMatches()
	status, cancelStatus := s.bus.Subscribe(bus.TopicStatus, 64)
	defer cancelStatus()

	// Reader goroutine notices the client closing; we never expect
	// inbound payloads.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		var (
			env bus.Envelope
			ok  bool
		)
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case env, ok = <-events:
		case env, ok = <-matches:
		case env, ok = <-status:
		}
		if !ok {
			return
		}

		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(env); err != nil {
			s.log.Debug("websocket write failed", "error", err)
			return
		}
	}
}
