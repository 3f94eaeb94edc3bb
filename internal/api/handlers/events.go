package handlers

import (
	"log"
	"net/http"

	ws "github.com/gorilla/websocket"
	"github.com/propdesk/propdesk/internal/api/middleware"
	"github.com/propdesk/propdesk/internal/sessionhub"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// EventsHandler upgrades a page's connection and streams its session-change
// events, so open tabs react to sign-out elsewhere and background refresh.
type EventsHandler struct {
	hub *sessionhub.Hub
}

func NewEventsHandler(hub *sessionhub.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	mgr, ok := middleware.GetManager(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR [handlers.Events] upgrade failed: %v", err)
		return
	}

	client := sessionhub.NewClient(h.hub, conn, mgr)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
