// Package api provides the operator admin API: a small Gin-based HTTP
// surface for inspecting and pruning the supercache.
//
// The resolution path never deletes supercache rows, so the database grows
// with every name the forwarder ever resolved; this API is the supported way
// for operators to watch and trim it. It is disabled unless an address is
// configured, and it is not meant to face untrusted networks.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/supercachedns/internal/api/handlers"
	"github.com/jroosing/supercachedns/internal/api/middleware"
	"github.com/jroosing/supercachedns/internal/database"
)

// Server is the admin API server.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

func New(addr string, db *database.DB, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(db, logger)
	RegisterRoutes(engine, h)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, engine: engine, httpServer: httpServer}
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
