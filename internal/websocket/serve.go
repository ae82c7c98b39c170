package websocket

import (
	"net/http"
)

// ServeHTTP upgrades the request and starts the client's pumps. A token query
// parameter logs the connection in before any frame is read; otherwise the
// client sends a login frame later.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	client := NewClient(h, conn)
	if err := h.Attach(client); err != nil {
		conn.Close()
		return
	}

	// Nothing can detach the client until ReadPump runs, so the bind below
	// always targets a live session.
	if token := r.URL.Query().Get("token"); token != "" {
		if err := client.Login(token); err != nil {
			client.reply(EventError, errorPayload{"login failed: " + err.Error()})
		}
	}

	go client.WritePump()
	go client.ReadPump()
}
