// Package api is the monitoring and control HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"synth-core/internal/engine"
	"synth-core/internal/events"
	"synth-core/pkg/config"
)

// Server wires HTTP endpoints around the engine service and event bus.
type Server struct {
	Router  *gin.Engine
	Service engine.Service
	Bus     *events.Bus
	Metrics http.Handler

	cfg      config.APIConfig
	log      zerolog.Logger
	limiters *ipLimiters
}

// NewServer builds the router. metrics may be nil when Prometheus is not
// exposed; bus may be nil when the websocket stream is unavailable.
func NewServer(svc engine.Service, bus *events.Bus, metrics http.Handler, cfg config.APIConfig, log zerolog.Logger) *Server {
	log = log.With().Str("component", "api").Logger()
	r := gin.New()
	s := &Server{
		Router:   r,
		Service:  svc,
		Bus:      bus,
		Metrics:  metrics,
		cfg:      cfg,
		log:      log,
		limiters: newIPLimiters(cfg.RateLimit, cfg.RateBurst),
	}

	// Middleware stack, order matters.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(s.limiters, log))
	r.Use(TimeoutMiddleware(30*time.Second, log))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/trades", s.listTrades)
		api.GET("/events", s.listEvents)
		api.GET("/killswitch", s.getKillSwitch)
		api.GET("/contract-type", s.getContractType)

		// Mutations require a bearer token once a secret is configured.
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.cfg.JWTSecret))
		{
			protected.DELETE("/trades", s.deleteTrades)
			protected.DELETE("/trades/:id", s.deleteTrade)
			protected.PUT("/killswitch", s.putKillSwitch)
			protected.PUT("/contract-type", s.putContractType)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.limiters.sweep(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
