package sessionhub

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/propdesk/propdesk/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// statePayload is what the browser receives on every session change.
type statePayload struct {
	Type          session.EventType `json:"type"`
	Authenticated bool              `json:"authenticated"`
	Email         string            `json:"email,omitempty"`
}

// Client ties one websocket connection to one manager subscription.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	mgr   *session.Manager
	subID int
	subCh <-chan session.Event
	quit  chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, mgr *session.Manager) *Client {
	subID, subCh := mgr.Subscribe()
	return &Client{
		hub:   hub,
		conn:  conn,
		mgr:   mgr,
		subID: subID,
		subCh: subCh,
		quit:  make(chan struct{}),
	}
}

// ReadPump drains the connection so pongs and close frames are processed.
// Clients never send meaningful messages; the stream is one-way.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}
	}
}

// WritePump forwards session events to the browser until the subscription or
// connection closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.subCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload := statePayload{Type: ev.Type, Authenticated: ev.Session != nil}
			if ev.Session != nil {
				payload.Email = ev.Session.User.Email
			}
			data, err := json.Marshal(payload)
			if err != nil {
				log.Printf("failed to marshal session event: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.quit:
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// shutdown is called by the hub with its lock held; it must not block.
func (c *Client) shutdown() {
	c.mgr.Unsubscribe(c.subID)
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}
