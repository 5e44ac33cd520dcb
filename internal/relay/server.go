package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/amaydixit11/mealsync/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server exposes the hub over HTTP: /ws for clients, /health and /metrics
// for operators.
type Server struct {
	cfg      Config
	store    storage.BlobStore
	hub      *Hub
	metrics  *Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
	srv      *http.Server
}

// NewServer wires a hub over store. The caller keeps ownership of store.
func NewServer(cfg Config, store storage.BlobStore, log zerolog.Logger) *Server {
	log = log.With().Str("component", "relay").Logger()
	metrics := NewMetrics()

	s := &Server{
		cfg:     cfg,
		store:   store,
		hub:     NewHub(store, metrics, clock.New(), log),
		metrics: metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices are native apps; there is no browser origin to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(loggerMiddleware(log))
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	s.router = r
	s.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Serve accepts connections on l until Shutdown is called
func (s *Server) Serve(l net.Listener) error {
	s.log.Info().Str("addr", l.Addr().String()).Msg("relay listening")
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked websocket connections are not tracked by net/http and end when
// the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.cfg.WebSocket)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

type healthResponse struct {
	Status    string `json:"status"`
	Clients   int    `json:"clients"`
	Documents int    `json:"documents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.Count()
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(healthResponse{Status: "unavailable", Clients: s.hub.ClientCount()})
		return
	}
	json.NewEncoder(w).Encode(healthResponse{
		Status:    "healthy",
		Clients:   s.hub.ClientCount(),
		Documents: docs,
	})
}
