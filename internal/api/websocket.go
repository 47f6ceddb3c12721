package api

import (
	"net/http"
	"time"

	"codeberg.org/mutker/pvdash/internal/notify"
	"codeberg.org/mutker/pvdash/internal/plant"
	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// events streams change events as JSON text frames. An optional ?plant=
// query restricts the stream to one plant.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	filter := plant.Key(r.URL.Query().Get("plant"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.deps.Hub.Subscribe(subscriberBuffer)
	defer cancel()

	closed := make(chan struct{})
	go readPump(conn, closed)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	log := s.deps.Log.With("remote", r.RemoteAddr)
	log.Debug().Str("plant", filter.String()).Msg("WebSocket subscriber connected")

	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			log.Debug().Msg("WebSocket subscriber disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && ev.Key != filter {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev notify.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

// readPump drains client frames so control messages are processed, and
// closes done when the connection goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
