package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/QWERTYjc/GradeOS-sub003/internal/config"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
)

// httpServer binds its listener in Start so an occupied port fails startup
// instead of surfacing later in a log line.
type httpServer struct {
	srv     *http.Server
	logger  *slog.Logger
	drain   time.Duration
	address string
}

func newHTTPServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *httpServer {
	s := cfg.Server
	return &httpServer{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: s.ReadHeaderTimeoutDuration(),
			ReadTimeout:       s.ReadTimeoutDuration(),
			WriteTimeout:      s.WriteTimeoutDuration(),
			IdleTimeout:       s.IdleTimeoutDuration(),
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger:  logger.With("system", "http"),
		drain:   cfg.ShutdownTimeoutDuration(),
		address: s.Addr(),
	}
}

func (h *httpServer) Start(lc *lifecycle.Coordinator) error {
	ln, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.address, err)
	}

	h.logger.Info("listening", "addr", ln.Addr().String())
	go func() {
		if err := h.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("serve failed", "error", err)
		}
	}()

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.drain)
		defer cancel()

		if err := h.srv.Shutdown(ctx); err != nil {
			h.logger.Error("drain incomplete", "error", err)
			return
		}
		h.logger.Info("http server stopped")
	})
	return nil
}
