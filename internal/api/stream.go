package api

import (
	"encoding/json"
	"net/http"
	"time"

	"garagehub/internal/tracking"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// handleStream pushes every snapshot of an open view over a websocket, the
// current one first. The socket is closed normally when the view closes, and
// the view closes once its last stream disconnects.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	viewID := r.PathValue("id")
	current, updates, cancel, err := s.svc.Tracking.Subscribe(viewID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Debug().Err(err).Str("view_id", viewID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads only serve control frames and notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeSnapshot(conn, current); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "tracking closed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap tracking.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
