// Package gateway is the transport boundary: websocket upgrades,
// connection pumps and the protocol/path router.
package gateway

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tablecast/internal/registry"
	"tablecast/internal/rules"
	"tablecast/internal/session"
	"tablecast/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Restrict in production
	},
}

// Gateway upgrades table-play connections and runs one session per
// connection.
type Gateway struct {
	store  store.TableStore
	reg    *registry.Registry
	engine rules.Engine
}

// New builds a gateway over the given collaborators.
func New(st store.TableStore, reg *registry.Registry, engine rules.Engine) *Gateway {
	return &Gateway{store: st, reg: reg, engine: engine}
}

// HandleWebSocket upgrades the request and runs the connection until
// disconnect.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Placeholder identity, fixed for the connection's lifetime; not a
	// security boundary.
	identity := r.Header.Get("Sec-WebSocket-Key")
	if identity == "" {
		identity = uuid.NewString()
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] upgrade error: %v", err)
		return
	}

	conn := newConn(ws)
	sess := session.New(identity, g.store, g.reg, g.engine, conn)
	log.Printf("[Gateway] client connected: %s", identity)

	go conn.writePump()
	ctx := context.Background()
	conn.readPump(func(msg []byte) {
		sess.HandleMessage(ctx, msg)
	})

	sess.Disconnect(ctx)
	log.Printf("[Gateway] client disconnected: %s", identity)
}
