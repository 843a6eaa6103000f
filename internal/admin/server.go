package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/svcwire/internal/observability"
	"github.com/danmuck/svcwire/internal/registry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr        string
	CORSOrigins []string
}

// Server is the admin HTTP listener for one registry.
type Server struct {
	cfg     Config
	reg     *registry.Registry
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, reg *registry.Registry) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, reg: reg, router: r, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server.Serve listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/services", s.listServices)
	s.router.GET("/services/:class/:name", s.getService)
	s.router.GET("/classes/:class", s.getClass)
}

// listServices returns every record, or those of ?class=<uuid>.
func (s *Server) listServices(c *gin.Context) {
	classID := uuid.Nil
	if raw := strings.TrimSpace(c.Query("class")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class id"})
			return
		}
		classID = id
	}
	entries, err := s.reg.List(classID)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]ServiceView, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewServiceView(e))
	}
	c.JSON(http.StatusOK, gin.H{"services": out})
}

func (s *Server) getService(c *gin.Context) {
	classID, ok := classParam(c)
	if !ok {
		return
	}
	entry, err := s.reg.Lookup(classID, c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewServiceView(entry))
}

func (s *Server) getClass(c *gin.Context) {
	classID, ok := classParam(c)
	if !ok {
		return
	}
	entry, err := s.reg.LookupClass(classID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewClassView(entry))
}

func classParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("class"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("admin.Server registry error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
