package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jroosing/supercachedns/internal/api"
	"github.com/jroosing/supercachedns/internal/config"
	"github.com/jroosing/supercachedns/internal/database"
	"github.com/jroosing/supercachedns/internal/resolvers"
)

// Runner wires the resolver, the supercache, and the listeners together and
// supervises them for the process lifetime.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run starts the forwarder and blocks until the context is cancelled or a
// listener fails fatally.
//
// Lifecycle:
//  1. Build the upstream resolver from the configured specs
//  2. Start UDP and TCP listeners on the bind address
//  3. Start the admin API when configured
//  4. Supervise everything under one errgroup; first fatal error wins
func (r *Runner) Run(ctx context.Context, cfg *config.Config, db *database.DB) error {
	resolver := resolvers.NewUpstreamResolver(cfg.Upstreams, cfg.UpstreamTimeout)
	defer resolver.Close()

	handler := &QueryHandler{
		Logger:   r.logger,
		Resolver: resolver,
		Store:    db,
	}

	addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.BindPort))
	r.logger.Info("dns listening",
		"addr", addr,
		"udp", true,
		"tcp", true,
		"upstreams", upstreamStrings(cfg.Upstreams),
		"upstream_timeout", cfg.UpstreamTimeout,
	)

	udp := &UDPServer{Logger: r.logger, Handler: handler}
	tcp := &TCPServer{Logger: r.logger, Handler: handler}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return udp.Run(ctx, addr) })
	g.Go(func() error { return tcp.Run(ctx, addr) })

	if cfg.APIAddress != "" {
		apiSrv := api.New(cfg.APIAddress, db, r.logger)
		r.logger.Info("admin api listening", "addr", apiSrv.Addr())

		g.Go(func() error {
			err := apiSrv.ListenAndServe()
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return apiSrv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func upstreamStrings(specs []config.UpstreamSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.String())
	}
	return out
}
