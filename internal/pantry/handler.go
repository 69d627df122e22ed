package pantry

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler is the /pantry websocket. Protocol: the literal text
// "request" returns the item list; any other text frame is a JSON item
// to insert, answered with the refreshed list.
type Handler struct {
	store Store
}

// NewHandler builds the pantry handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// wireItem is the inbound insert shape: location and categories are
// comma-separated, expiration is MM/DD/YYYY.
type wireItem struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Categories string `json:"categories"`
	Quantity   int    `json:"quantity"`
	Expiration string `json:"expiration"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Pantry] upgrade error: %v", err)
		return
	}
	defer ws.Close()

	ctx := r.Context()
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if string(message) == "request" {
			h.sendList(ctx, ws)
			continue
		}
		var in wireItem
		if err := json.Unmarshal(message, &in); err != nil {
			log.Printf("[Pantry] bad item: %v", err)
			continue
		}
		expiration, err := time.Parse(ExpirationLayout, in.Expiration)
		if err != nil {
			log.Printf("[Pantry] bad expiration %q: %v", in.Expiration, err)
			continue
		}
		item := Item{
			Name:       in.Name,
			Location:   strings.Split(in.Location, ","),
			Categories: strings.Split(in.Categories, ","),
			Quantity:   in.Quantity,
			Expiration: expiration,
		}
		if err := h.store.Insert(ctx, item); err != nil {
			log.Printf("[Pantry] insert: %v", err)
			continue
		}
		h.sendList(ctx, ws)
	}
}

// sendList writes all items as an array of
// [name, location, categories, quantity, expiration] rows.
func (h *Handler) sendList(ctx context.Context, ws *websocket.Conn) {
	items, err := h.store.List(ctx)
	if err != nil {
		log.Printf("[Pantry] list: %v", err)
		return
	}
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, []any{
			item.Name,
			item.Location,
			item.Categories,
			item.Quantity,
			item.Expiration.Format(ExpirationLayout),
		})
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		log.Printf("[Pantry] encode list: %v", err)
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("[Pantry] write list: %v", err)
	}
}
