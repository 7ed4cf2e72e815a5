// Package status exposes the synchronized state and connection banner over HTTP.
package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/agenttown/townsync/go/internal/models"
	"github.com/agenttown/townsync/go/internal/townsync/state"
)

// Engine is what the status surface reads from and acts on.
type Engine interface {
	Status() models.ConnectionStatus
	Snapshot() state.Snapshot
	ReconnectNow()
	SendCommand(text, agentID string) (models.Command, bool)
}

// Response is the body of GET /status.
type Response struct {
	models.ConnectionStatus
	Banner string `json:"banner"`
}

// BannerText renders a connection status for humans.
func BannerText(s models.ConnectionStatus) string {
	switch s.State {
	case models.ConnectionStateConnected:
		return "connected"
	case models.ConnectionStateConnecting:
		return "connecting"
	case models.ConnectionStateReconnecting:
		if s.NextReconnectInSeconds == nil {
			return fmt.Sprintf("reconnecting, attempt %d", s.ReconnectAttempts)
		}
		return fmt.Sprintf("reconnecting, attempt %d, retry in %d seconds", s.ReconnectAttempts, *s.NextReconnectInSeconds)
	default:
		return "disconnected"
	}
}

// Handler serves the status routes.
type Handler struct {
	engine Engine
}

// NewHandler creates the status handler.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes registers the status routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /state", h.handleState)
	mux.HandleFunc("POST /reconnect", h.handleReconnect)
	mux.HandleFunc("POST /commands", h.handleCommand)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Status()
	writeJSON(w, http.StatusOK, Response{ConnectionStatus: s, Banner: BannerText(s)})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) handleReconnect(w http.ResponseWriter, r *http.Request) {
	h.engine.ReconnectNow()
	s := h.engine.Status()
	writeJSON(w, http.StatusAccepted, Response{ConnectionStatus: s, Banner: BannerText(s)})
}

type commandRequest struct {
	Command string `json:"command"`
	AgentID string `json:"agentId"`
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "command is required"})
		return
	}

	cmd, sent := h.engine.SendCommand(req.Command, req.AgentID)
	if !sent {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "channel is not connected"})
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

// NewServer wraps the status routes with CORS and h2c.
func NewServer(addr string, allowedOrigins []string, engine Engine) *http.Server {
	mux := http.NewServeMux()
	NewHandler(engine).RegisterRoutes(mux)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(c.Handler(mux), &http2.Server{}),
	}
}
