package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The agent binds to loopback only, so cross-origin pages on the
	// same machine are the expected callers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// sessionStreamHandler pushes a state snapshot to the client after every
// session mutation, starting with the current state on connect.
func sessionStreamHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		events, cancel := cfg.Session.Subscribe()
		defer cancel()

		initial := cfg.Session.Snapshot()
		streamJSON(conn, initial, events, r.Context().Done())
	}
}

// exportStreamHandler pushes export progress events, starting with the
// orchestrator's current state on connect.
func exportStreamHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		events, cancel := cfg.Orchestrator.Subscribe()
		defer cancel()

		initial := cfg.Orchestrator.Current()
		streamJSON(conn, initial, events, r.Context().Done())
	}
}

// streamJSON drives one outbound-only WebSocket: the initial value, then
// every event until the client hangs up or a write fails.
func streamJSON[T any](conn *websocket.Conn, initial T, events <-chan T, done <-chan struct{}) {
	defer conn.Close()

	// Drain reads so close frames and pongs are processed; client
	// messages are ignored on this endpoint.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	if err := write(initial); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok || write(ev) != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-done:
			return
		}
	}
}
