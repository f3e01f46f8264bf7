package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamBuffer     = 256
)

// handleEventStream replays events after ?since= and then pushes live ones
// as JSON text frames until the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	since, err := parseInt64Query(r, "since", 0)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Subscribe before replaying so nothing published in between is lost.
	live, cancel := s.pipeline.Subscribe(streamBuffer)
	defer cancel()

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	lastSeq := since
	for _, event := range s.pipeline.Events(since) {
		if err := writeFrame(conn, event); err != nil {
			return
		}
		lastSeq = event.Seq
	}

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-live:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(streamWriteWait))
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			if err := writeFrame(conn, event); err != nil {
				return
			}
			lastSeq = event.Seq
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, payload interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(payload)
}

// readUntilClosed drains client frames and closes done when the peer goes away.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
