// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/worldloom/services/topology/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// eventsBuffer is per-socket. A subscriber that falls this far behind
// starts losing events; the hub counts the drops.
const eventsBuffer = 64

// HandleEventsWebSocket bridges the engine event hub onto a websocket. The
// feed is one-way: each engine event goes out as one JSON message. Client
// messages are read only to notice the close.
func HandleEventsWebSocket(hub *events.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		ch, cancel := hub.Subscribe(eventsBuffer)
		defer cancel()
		slog.Info("Event feed client connected", "remote", ws.RemoteAddr().String())

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				slog.Info("Event feed client disconnected", "remote", ws.RemoteAddr().String())
				return
			case <-c.Request.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := ws.WriteJSON(evt); err != nil {
					slog.Info("Event feed write failed, dropping client", "error", err)
					return
				}
			}
		}
	}
}
