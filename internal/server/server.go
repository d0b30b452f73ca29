// Package server exposes the snapshot, opportunity lists and stake
// calculator over HTTP, and pushes snapshot replacements over websocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/rewired-gh/polyedge/internal/engine"
	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
	"github.com/rewired-gh/polyedge/internal/snapshot"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Addr         string
	Mode         string
	Pprof        bool
	AllowOrigins []string
}

// Refresher triggers out-of-band supplier refreshes.
type Refresher interface {
	RefreshCategory(ctx context.Context, category string) (models.Digest, error)
	ResyncEvent(ctx context.Context, id string) (models.MarketEvent, error)
}

// History reads the persisted opportunity log.
type History interface {
	GetTopOpportunities(kind models.OpportunityKind, k int) ([]models.OpportunityRecord, error)
}

type Server struct {
	config    Config
	router    *gin.Engine
	store     *snapshot.Store
	engine    *engine.Engine
	refresher Refresher
	history   History
	hub       *Hub
}

func New(cfg Config, store *snapshot.Store, eng *engine.Engine, refresher Refresher, history History) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		config:    cfg,
		router:    gin.New(),
		store:     store,
		engine:    eng,
		refresher: refresher,
		history:   history,
	}
	s.hub = NewHub(func() any { return store.Statuses() })

	s.router.Use(gin.RecoveryWithWriter(logger.Logrus().Writer()), requestLogger())
	s.router.Use(cors.New(corsConfig(cfg.AllowOrigins)))
	if cfg.Pprof {
		pprof.Register(s.router)
	}
	s.routes()
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	return c
}

func (s *Server) routes() {
	api := s.router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/events", s.listEvents)
	api.GET("/events/:id", s.getEvent)
	api.POST("/events/:id/resync", s.resyncEvent)
	api.GET("/events/:id/stake", s.stake)
	api.POST("/categories/:category/refresh", s.refreshCategory)
	api.GET("/opportunities/alpha", s.alpha)
	api.GET("/opportunities/arbitrage", s.arbitrage)
	api.GET("/opportunities/history", s.opportunityHistory)

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWS(c.Writer, c.Request)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub that snapshot replacements are published to.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", s.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"query":    c.Request.URL.RawQuery,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	}
}
