// Package admin exposes the daemon's status surface over HTTP: health,
// readiness, prometheus metrics, a snapshot of active connections, and the
// local host-identity record.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/peerwire/internal/conn"
	"github.com/danmuck/peerwire/internal/observability"
	"github.com/danmuck/peerwire/internal/sysinfo"
)

// ConnSource is the slice of the connection manager the admin API reads.
type ConnSource interface {
	Snapshot() []conn.ConnInfo
}

type Server struct {
	name    string
	started time.Time
	source  ConnSource
	httpSrv *http.Server
	log     zerolog.Logger
}

func NewServer(name, addr string, source ConnSource, corsOrigins []string, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(log))
	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{http.MethodGet},
		}))
	}

	s := &Server{
		name:    name,
		started: time.Now(),
		source:  source,
		log:     log,
		httpSrv: &http.Server{Addr: addr, Handler: router},
	}
	s.registerRoutes(router)
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": s.name,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"uptime": time.Since(s.started).String(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/connections", func(c *gin.Context) {
		infos := s.source.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"count":       len(infos),
			"connections": infos,
		})
	})

	router.GET("/identity", func(c *gin.Context) {
		c.JSON(http.StatusOK, sysinfo.Collect())
	})
}

// Start serves the admin API until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("admin api listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("admin api stopped")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
