package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/denghuinow/kg-api-server/internal/obslog"
)

// ServerConfig configures the echo instance NewServer builds.
type ServerConfig struct {
	Host             string
	Port             int
	CORSAllowOrigins []string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
}

// NewServer builds an echo.Echo with the standard middleware stack and
// the §6 routes registered under it.
func NewServer(cfg ServerConfig, log *obslog.Logger, handlers *Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	e.Use(obslog.Middleware(log))

	origins := cfg.CORSAllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST"},
	}))

	handlers.RegisterRoutes(e.Group(""))
	return e
}

// Addr formats cfg.Host/cfg.Port for the *http.Server Start builds.
func (cfg ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Start runs e behind an *http.Server built from cfg so read/write
// timeouts apply.
func Start(e *echo.Echo, cfg ServerConfig) error {
	s := &http.Server{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return e.StartServer(s)
}

// Shutdown gracefully stops e, bounded by cfg.ShutdownTimeout.
func Shutdown(ctx context.Context, e *echo.Echo, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
