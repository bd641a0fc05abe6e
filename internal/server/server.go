// Package server hosts the topology authority's read-only admin HTTP API.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/nfrund/topobus/internal/handlers"
	"github.com/nfrund/topobus/internal/logging"
	"github.com/nfrund/topobus/internal/middleware"
)

// Config configures the admin server.
type Config struct {
	Addr string
	// JWTSecret enables bearer authentication on /api when set.
	JWTSecret string
	// RateLimit is requests per second per client IP on /api.
	RateLimit float64
	Logger    *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E      *echo.Echo
	cfg    Config
	logger *slog.Logger
	status *handlers.StatusHandler
	auth   *middleware.JWTAuth
}

// New creates a Server serving the state of source.
func New(cfg Config, source handlers.StatusSource) *Server {
	logger := logging.Component(cfg.Logger, "admin-api")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.Recover())
	setupErrorHandling(e)

	s := &Server{
		E:      e,
		cfg:    cfg,
		logger: logger,
		status: handlers.NewStatusHandler(source),
	}
	if cfg.JWTSecret != "" {
		s.auth = middleware.NewJWTAuth(cfg.JWTSecret)
	}
	s.RegisterRoutes()
	return s
}

// Auth returns the token issuer, or nil when authentication is disabled.
func (s *Server) Auth() *middleware.JWTAuth {
	return s.auth
}

// setupErrorHandling maps errors to JSON responses. Unhandled errors are logged
// with a stack trace.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, handlers.ErrorResponse{
				Code:    http.StatusText(he.Code),
				Message: fmt.Sprint(he.Message),
			})
			return
		}

		middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
			"error", err.Error(),
			"path", c.Request().URL.Path,
			"stack_trace", string(debug.Stack()))
		_ = c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{
			Code:    "internal_error",
			Message: "internal server error",
		})
	}
}
