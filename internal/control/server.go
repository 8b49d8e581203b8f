// Package control exposes the session controller over HTTP.
package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/gazectl/internal/auth"
	"github.com/danmuck/gazectl/internal/observability"
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/tracker"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Controller is the part of tracker.Client the HTTP surface drives.
type Controller interface {
	StartSession(ctx context.Context, prefix string) (*tracker.Session, error)
	StopSession(ctx context.Context) error
	SendSet(id, state string) error
	Status() tracker.Status
}

type Config struct {
	Name        string
	Addr        string
	CORSOrigins []string
	// Token, when set, is required as a bearer token on POST routes.
	Token string
}

type Server struct {
	name     string
	addr     string
	ctl      Controller
	router   *gin.Engine
	logger   zerolog.Logger
	auth     auth.Validator
	appeared time.Time
}

type startRequest struct {
	Output string `json:"output"`
}

type commandRequest struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func New(cfg Config, ctl Controller) *Server {
	observability.RegisterMetrics()
	if cfg.Name == "" {
		cfg.Name = "gazectl"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		name:     cfg.Name,
		addr:     cfg.Addr,
		ctl:      ctl,
		router:   r,
		logger:   observability.Component("control"),
		auth:     auth.FromConfig(cfg.Token),
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.name,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.ctl.Status()
		c.JSON(http.StatusOK, gin.H{
			"ready":      true,
			"session":    st.Active,
			"calibrated": st.Calibrated,
			"service":    s.name,
			"version":    version,
		})
	})

	s.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctl.Status())
	})

	ops := s.router.Group("/", s.requireToken())

	ops.POST("/session/start", func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := s.ctl.StartSession(c.Request.Context(), req.Output); err != nil {
			s.logger.Warn().Err(err).Str("output", req.Output).Msg("session start rejected")
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "started", "session": s.ctl.Status()})
	})

	ops.POST("/session/stop", func(c *gin.Context) {
		if err := s.ctl.StopSession(c.Request.Context()); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stopped", "session": s.ctl.Status()})
	})

	ops.POST("/command", func(c *gin.Context) {
		var req commandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(req.State) == "" {
			req.State = "1"
		}
		if err := s.ctl.SendSet(req.ID, req.State); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent", "id": req.ID, "state": req.State})
	})
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Check(s.auth, c.GetHeader("Authorization")); err != nil {
			s.logger.Warn().Err(err).Str("path", c.FullPath()).Msg("control request denied")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve runs the HTTP server until ctx ends, then shuts it down.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("control listening")

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

func statusFor(err error) int {
	switch {
	case errors.Is(err, tracker.ErrOutputRequired),
		errors.Is(err, tracker.ErrAddressRequired),
		errors.Is(err, protocol.ErrInvalidCommandID):
		return http.StatusBadRequest
	case errors.Is(err, tracker.ErrSessionActive),
		errors.Is(err, tracker.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrConnect):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
