package main

import (
	"context"
	"log"
	"net/http"

	"github.com/caarlos0/env/v11"

	"tablecast/internal/feed"
	"tablecast/internal/gateway"
	"tablecast/internal/pantry"
	"tablecast/internal/registry"
	"tablecast/internal/rules"
	"tablecast/internal/store"
)

type config struct {
	Addr             string `env:"ADDR" envDefault:":8080"`
	StaticDir        string `env:"STATIC_DIR" envDefault:"static"`
	PantrySQLitePath string `env:"PANTRY_SQLITE_PATH" envDefault:"pantry.db"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("[Server] Failed to parse config: %v", err)
	}

	tableStore, storeMode, err := store.NewFromEnv()
	if err != nil {
		log.Fatalf("[Server] Failed to init store: %v", err)
	}
	defer tableStore.Close()

	pantryStore, pantryMode, err := newPantryStore(storeMode, cfg.PantrySQLitePath)
	if err != nil {
		log.Fatalf("[Server] Failed to init pantry store: %v", err)
	}
	defer pantryStore.Close()

	reg := registry.New()
	engine := rules.Default()

	// The consumer runs for the lifetime of the process; there is no
	// shutdown protocol.
	consumer := feed.New(tableStore, reg, engine)
	go consumer.Run(context.Background())

	gw := gateway.New(tableStore, reg, engine)
	router := gateway.NewRouter(gateway.NewLegacyHandler(cfg.StaticDir))
	router.HandleFunc(gateway.ProtocolWebSocket, "/ws", gw.HandleWebSocket)
	router.Handle(gateway.ProtocolWebSocket, "/pantry", pantry.NewHandler(pantryStore))
	router.HandleFunc(gateway.ProtocolHTTP, "/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.Printf("[Server] Store mode: %s", storeMode)
	log.Printf("[Server] Pantry mode: %s", pantryMode)
	log.Printf("[Server] Starting on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatalf("[Server] Failed to start: %v", err)
	}
}

// newPantryStore keeps the inventory demo on local storage: sqlite
// whenever the table store is durable, memory otherwise.
func newPantryStore(storeMode, sqlitePath string) (pantry.Store, string, error) {
	if storeMode == store.ModeMemory {
		return pantry.NewMemory(), "memory", nil
	}
	s, err := pantry.NewSQLite(sqlitePath)
	if err != nil {
		return nil, "sqlite", err
	}
	return s, "sqlite", nil
}
