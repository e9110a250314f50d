package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/echopipe/pipe"
)

// handleEvents upgrades the connection and streams edge-triggered
// readiness events for one direction as JSON text messages.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	var dir pipe.Direction
	switch r.URL.Query().Get("dir") {
	case "read", "":
		dir = pipe.DirectionRead
	case "write":
		dir = pipe.DirectionWrite
	default:
		g.writeError(w, http.StatusBadRequest, "dir must be read or write")
		return
	}

	sub, err := g.resource.Subscribe(dir)
	if err != nil {
		g.writeMappedError(w, err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if g.gwMetrics != nil {
		g.gwMetrics.wsConns.Inc()
	}
	g.logger.Debug("event stream opened", "direction", dir, "subscription", sub.ID())

	go g.readPump(conn, sub)
	g.writePump(conn, sub)

	if g.gwMetrics != nil {
		g.gwMetrics.wsConns.Dec()
	}
}

// readPump consumes control frames and detaches the subscription when
// the client goes away.
func (g *Gateway) readPump(conn *websocket.Conn, sub *pipe.Subscription) {
	defer sub.Close()

	conn.SetReadLimit(512)
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

// writePump drains subscription events to the client and keeps the
// connection alive with pings. It returns when the subscription ends
// or a write fails.
func (g *Gateway) writePump(conn *websocket.Conn, sub *pipe.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case _, open := <-sub.C():
			for {
				ev, ok := sub.Next()
				if !ok {
					break
				}
				if err := g.writeEvent(conn, ev); err != nil {
					return
				}
			}
			if !open {
				// Resource teardown: say goodbye cleanly.
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "resource gone"))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) writeEvent(conn *websocket.Conn, ev pipe.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
