package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tickcast/internal/model"
	"tickcast/internal/publisher"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// streamHandler pushes forecast and alert events to WebSocket clients. An
// optional ?symbol= query restricts the stream to one instrument.
type streamHandler struct {
	events *publisher.Local
	log    zerolog.Logger
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	symbol := model.Key(r.URL.Query().Get("symbol"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	events, cancel := h.events.Subscribe()
	c := &streamClient{conn: conn, events: events, symbol: symbol, done: make(chan struct{})}
	h.log.Debug().Str("symbol", symbol).Str("remote", r.RemoteAddr).Msg("ws client connected")

	go c.readPump()
	c.writePump()

	cancel()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("ws client disconnected")
}

type streamClient struct {
	conn   *websocket.Conn
	events <-chan publisher.Event
	symbol string
	done   chan struct{}
}

func (c *streamClient) wants(ev publisher.Event) bool {
	return c.symbol == "" || ev.Instrument == c.symbol
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if !c.wants(ev) {
				continue
			}
			msg, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards client messages and keeps the read deadline fresh.
func (c *streamClient) readPump() {
	defer close(c.done)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
