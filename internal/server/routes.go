package server

import (
	"github.com/nfrund/topobus/internal/middleware"
)

// RegisterRoutes sets up the admin routes. /health is always public; /api is
// rate limited and, with a JWT secret configured, requires a bearer token.
func (s *Server) RegisterRoutes() {
	s.E.GET("/health", s.status.Health)

	api := s.E.Group("/api", middleware.RateLimiter(s.cfg.RateLimit))
	if s.auth != nil {
		api.Use(middleware.RequireJWT(s.auth))
	}

	api.GET("/clients", s.status.ListClients)
	api.GET("/clients/:name", s.status.GetClient)
	api.GET("/registry", s.status.GetRegistry)
	api.GET("/registry/routes/:eventType", s.status.GetRoute)
}
