package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 65536

	// sendTimeout isolates a stuck sink: a fan-out send that cannot
	// enqueue within this window fails for that connection alone
	// instead of stalling delivery to every other viewer.
	sendTimeout = 5 * time.Second
)

var errConnClosed = errors.New("connection closed")

// Conn wraps one websocket. It is the registry sink for its session:
// Send enqueues onto the buffered channel drained by writePump, safe
// for concurrent use by the feed consumer and the session.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:   ws,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

// Send implements registry.Sink.
func (c *Conn) Send(msg []byte) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	case <-time.After(sendTimeout):
		return fmt.Errorf("send buffer full for %s", c.ws.RemoteAddr())
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump reads inbound frames and hands text messages to onMessage.
// Returns when the peer goes away or errors.
func (c *Conn) readPump(onMessage func([]byte)) {
	defer c.close()

	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				return
			}
			return
		}
		if messageType == websocket.TextMessage {
			onMessage(message)
		}
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
