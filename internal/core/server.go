package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"metergate/internal/config"
)

// Server is the HTTP front of the engine: a chi router wrapped in the base
// middleware chain with graceful shutdown.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	router *chi.Mux
	srv    *http.Server
}

// NewServer builds the server with the standard middleware chain. Handlers
// are mounted onto Router afterwards.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(Recoverer(logger))
	router.Use(RequestID)
	router.Use(RequestLogger(logger))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "ok"}})
	})

	return &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		srv: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Router exposes the chi router for mounting handler groups.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start serves until ctx is canceled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
