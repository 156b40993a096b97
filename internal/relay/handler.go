package relay

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/taskhub/realtime/internal/models"
)

// upgrader upgrades HTTP connections to websocket.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are handled by the CORS middleware
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the relay's HTTP surface: the websocket endpoint, the
// room history endpoint and a health check.
type Handler struct {
	hub   *Hub
	store *Store

	// token, when non-empty, is the bearer credential every request and
	// connection must present
	token string

	log zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(hub *Hub, store *Store, token string, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
		token: token,
		log:   logger.With().Str("component", "relay").Logger(),
	}
}

// Router builds the chi router with the middleware stack and all routes.
func (h *Handler) Router(corsOrigins []string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Get("/ws", h.ServeWS)
	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms/{id}/history", h.GetHistory)
	})

	return r
}

// HealthCheck handles GET /health
// Returns the relay's health status for monitoring checks.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "chat relay is running",
	})
}

// ServeWS handles websocket upgrade requests at /ws.
// Query params: user_id, user_name. The bearer token travels in the
// Authorization header, or in a token query param for browser clients
// that cannot set headers on websocket handshakes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	member := models.Member{
		ID:          r.URL.Query().Get("user_id"),
		DisplayName: r.URL.Query().Get("user_name"),
	}
	if member.ID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	if member.DisplayName == "" {
		member.DisplayName = member.ID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	h.log.Info().Str("user", member.ID).Str("name", member.DisplayName).Msg("new connection")

	client := NewClient(h.hub, conn, member, h.log)
	go client.WritePump()
	go client.ReadPump()
}

// GetHistory handles GET /api/rooms/{id}/history
// Returns the room's confirmed messages, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, models.HistoryResponse{
		Messages: h.store.History(roomID),
	})
}

// authorized checks the bearer credential when one is configured.
func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == h.token {
		return true
	}
	return r.URL.Query().Get("token") == h.token
}

// writeJSON encodes a response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
