// Package admin is the engine's read-only operator-facing HTTP surface:
// /healthz, /metrics, and /stats. It is not part of the crawl data
// path — a spider run never blocks on a request reaching this server.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nyxcrawl/scrapyengine/crawlerctx"
)

// Server wraps a gin.Engine behind a graceful-shutdown-capable
// http.Server, bound to Settings.AdminAddr.
type Server struct {
	addr       string
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the admin server and registers its routes against cc.
func New(cc *crawlerctx.Context) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestIDMiddleware(), loggerMiddleware(cc.Logger), metricsMiddleware(cc.Registry))

	s := &Server{
		addr:   cc.Settings.AdminAddr,
		router: router,
		logger: cc.Logger,
	}
	registerRoutes(router, cc)
	return s
}

// Start launches the server in the background; it does not block.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("admin: listening", "address", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin: server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully, waiting for in-flight requests
// up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	return nil
}
