package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"vehiclestats/internal/logger"
	ws "vehiclestats/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressHub is the part of the websocket hub the progress handler needs.
type ProgressHub interface {
	Register(client ws.Client)
	Unregister(client ws.Client)
}

// ProgressWebsocketHandler registers the connection with the hub so it receives
// per-frame progress of running detections until it disconnects.
func ProgressWebsocketHandler(hub ProgressHub, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub.Register(connection)
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info("Progress viewer disconnected normally")
				} else {
					log.Warning("Progress viewer disconnected: %v", err)
				}
				return
			}
		}
	}
}
