// Package server exposes the HTTP surface: the Telegram webhook, liveness
// probes, and the admin routes for telemetry, changelog, rollback, and
// queue triage.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/supervisor"
	"github.com/graphmind-ai/graphmind/telemetry"
	"github.com/graphmind-ai/graphmind/transport"
)

const shutdownTimeout = 10 * time.Second

// Options wire the HTTP surface to the rest of the process.
type Options struct {
	// AdminKey guards admin routes; empty leaves them open (development
	// mode).
	AdminKey string

	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64

	// UseDurableQueue enqueues webhook turns instead of running inline.
	UseDurableQueue bool

	Queue      queue.Queue
	Supervisor *supervisor.Supervisor
	Telemetry  *telemetry.Aggregator
	Versioner  *kg.Versioner
	Messenger  transport.Messenger
}

// Server is the echo application.
type Server struct {
	echo *echo.Echo
	opts Options
}

// New builds the server with standard middleware and all routes mounted.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestID())
	if opts.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(opts.RateLimit),
		)))
	}

	s := &Server{echo: e, opts: opts}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	s.echo.POST("/telegram/webhook", s.handleWebhook)

	admin := s.echo.Group("", s.adminAuth)
	admin.GET("/telemetry/state", s.handleTelemetryState)
	admin.GET("/telemetry/summary", s.handleTelemetrySummary)
	admin.GET("/telemetry/tasks", s.handleTelemetryTasks)
	admin.GET("/kg/versions", s.handleVersions)
	admin.GET("/kg/versions/:v", s.handleVersion)
	admin.POST("/kg/rollback/:v", s.handleRollback)
	admin.GET("/queue/dead-letter", s.handleDeadLetter)
	admin.POST("/queue/triage/:task_id", s.handleTriage)
	admin.GET("/queue/stuck", s.handleStuck)
	admin.GET("/diagnostics/recursion", s.handleRecursion)
}

// adminAuth accepts X-Admin-Key or a Bearer token. With no key configured
// the routes are open, a documented development-mode choice.
func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.AdminKey == "" {
			return next(c)
		}
		if c.Request().Header.Get("X-Admin-Key") == s.opts.AdminKey {
			return next(c)
		}
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if strings.TrimPrefix(auth, "Bearer ") == s.opts.AdminKey && auth != "" {
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	common.ServiceLogger("server").WithField("addr", addr).Info("HTTP server starting")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
