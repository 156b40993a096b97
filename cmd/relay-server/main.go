package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/taskhub/realtime/internal/config"
	"github.com/taskhub/realtime/internal/relay"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	store := relay.NewStore()
	hub := relay.NewHub(store, log.Logger)
	go hub.Run()

	handler := relay.NewHandler(hub, store, cfg.Token, log.Logger)

	corsOrigins := getCorsOrigins()
	log.Info().Strs("origins", corsOrigins).Msg("CORS allowed origins")

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("chat relay starting")
	if err := http.ListenAndServe(addr, handler.Router(corsOrigins)); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// getCorsOrigins returns allowed CORS origins from environment or defaults
func getCorsOrigins() []string {
	originsEnv := os.Getenv("CORS_ORIGINS")
	if originsEnv == "" {
		// Default to localhost for development
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}

	origins := strings.Split(originsEnv, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}
