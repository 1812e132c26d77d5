package websocket

import (
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/mealminder/internal/bus"
)

// ServeAgent upgrades the request and runs it as an agent connection for
// userID, answering agent requests with handler.
func (h *Hub) ServeAgent(w http.ResponseWriter, r *http.Request, userID int64, handler bus.Handler, timeout time.Duration) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // agents are not browsers; auth is the bearer token
	})
	if err != nil {
		h.logger.Error("websocket accept", "error", err)
		return
	}

	t := NewTransport(conn)
	client := NewClient(h, userID, bus.NewConn(t, handler, timeout, h.logger), t)
	h.logger.Info("agent connected", "user_id", userID)
	client.Run(r.Context())
	h.logger.Info("agent disconnected", "user_id", userID)
}
