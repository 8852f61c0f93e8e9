package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/taskhive/realtime/internal/config"
	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/server"
	"github.com/taskhive/realtime/internal/stats"
)

// RealtimeApp is the HTTP surface of the sync server. Login and
// registration live in the main web application; this service only
// verifies the session token it issued and upgrades to websocket.
type RealtimeApp struct {
	log            *log.Logger
	db             database.Repository
	mux            *http.Server
	ss             *server.SyncServer
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
}

func NewRealtimeApp(mux *http.ServeMux, logger *log.Logger, ss *server.SyncServer, db database.Repository, sp stats.StatsProvider, cfg *config.Config) *RealtimeApp {
	s := &RealtimeApp{
		log:            logger,
		db:             db,
		ss:             ss,
		stats:          sp,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RealtimeApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RealtimeApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
