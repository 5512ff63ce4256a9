package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleettrack/relay/internal/config"
	"fleettrack/relay/internal/logging"
)

const writeWait = 10 * time.Second

// envelope is the wire frame shared by both directions: an event name plus an
// event-specific payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client is one WebSocket connection. It satisfies registry.Session so the
// dispatch engine can address it without knowing about sockets.
type Client struct {
	id    string
	relay *Relay
	conn  *websocket.Conn
	log   *logging.Logger
	send  chan []byte
	once  sync.Once
	done  chan struct{}
}

func newClient(relay *Relay, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:    id,
		relay: relay,
		conn:  conn,
		log:   relay.log.With(logging.String("session_id", id)),
		send:  make(chan []byte, 256),
		done:  make(chan struct{}),
	}
}

// SessionID returns the stable identifier assigned at connect time.
func (c *Client) SessionID() string { return c.id }

// Send queues one event for delivery. A full buffer means the consumer fell
// too far behind, so the connection is dropped rather than blocking the
// dispatcher.
func (c *Client) Send(event string, payload any) bool {
	frame, err := json.Marshal(outboundEnvelope{Event: event, Data: payload})
	if err != nil {
		c.log.Warn("outbound payload not serialisable",
			logging.Error(err),
			logging.String("event", event))
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("slow consumer evicted", logging.String("event", event))
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.relay.engine.HandleDisconnect(c)
		c.relay.detach(c)
		_ = c.conn.Close()
	}()

	interval := c.relay.cfg.PingInterval
	if interval <= 0 {
		interval = config.DefaultPingInterval
	}
	pongWait := interval * 2
	c.conn.SetReadLimit(c.relay.cfg.MaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", logging.Error(err))
			}
			return
		}
		var frame envelope
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			//1.- A frame without an event name has no handler; drop it quietly.
			c.log.Debug("discarding malformed frame", logging.Error(err))
			continue
		}
		c.relay.engine.Dispatch(c, frame.Event, frame.Data)
	}
}

func (c *Client) writePump() {
	interval := c.relay.cfg.PingInterval
	if interval <= 0 {
		interval = config.DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
