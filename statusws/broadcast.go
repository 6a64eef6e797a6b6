// Package statusws pushes session status transitions to websocket clients.
package statusws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/session"
)

const sendBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcaster fans status events out to connected clients. New clients get
// the most recent event as a snapshot.
type Broadcaster struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	last    *StatusPayload
}

func NewBroadcaster(lg *logging.Logger) *Broadcaster {
	if lg == nil {
		lg = logging.Default()
	}
	return &Broadcaster{
		log:     lg,
		clients: make(map[*client]bool),
	}
}

// Subscribe registers the broadcaster as a status listener of ctl.
func (b *Broadcaster) Subscribe(ctl *session.Controller) {
	ctl.OnStatus(b.Publish)
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = true
	if b.last != nil {
		data, _ := json.Marshal(Message{Type: MsgSnapshot, Payload: *b.last})
		select {
		case c.send <- data:
		default:
		}
	}
	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop(c)
}

// drop must be called with mu held.
func (b *Broadcaster) drop(c *client) {
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

// Publish sends ev to every client. Clients that cannot keep up are
// disconnected.
func (b *Broadcaster) Publish(ev session.StatusEvent) {
	p := payloadOf(ev)
	data, err := json.Marshal(Message{Type: MsgStatus, Payload: p})
	if err != nil {
		b.log.Warnf("status marshal: %v", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = &p
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			b.log.Warnf("status client too slow, disconnecting")
			b.drop(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		b.drop(c)
	}
}
