// Package server is the HTTP surface of mailboard.
package server

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/mailboard/internal/account"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/oauth"
	mailsync "github.com/nhle/mailboard/internal/sync"
)

// Config configures the HTTP surface.
type Config struct {
	// Secret signs session tokens.
	Secret []byte

	// Pin unlocks a session.
	Pin string

	// FrontendURL is the allowed CORS origin and the OAuth callback target.
	FrontendURL string

	// RateLimit is the sustained requests per second allowed per client
	// IP. Zero disables limiting.
	RateLimit int

	// SecureCookie marks the session cookie Secure.
	SecureCookie bool

	// Providers reports which OAuth clients are configured on /config.
	Providers model.ProvidersSection

	// AccessLog receives one line per request. Nil means stdout.
	AccessLog io.Writer
}

// Server wires HTTP routes to the account, sync and OAuth services.
type Server struct {
	cfg      Config
	accounts *account.Service
	cache    *mailsync.Cache
	flow     *oauth.Flow
	logger   *slog.Logger
	app      *fiber.App
}

// New creates a Server with every route registered.
func New(cfg Config, accounts *account.Service, cache *mailsync.Cache, flow *oauth.Flow, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		accounts: accounts,
		cache:    cache,
		flow:     flow,
		logger:   logger.With("component", "http"),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "mailboard",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(s.logger),
	})
	s.routes()
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	out := s.cfg.AccessLog
	if out == nil {
		out = os.Stdout
	}
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{Output: out}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.FrontendURL,
		AllowCredentials: s.cfg.FrontendURL != "",
	}))
	if s.cfg.RateLimit > 0 {
		s.app.Use(rateLimit(s.cfg.RateLimit))
	}

	s.app.Get("/health", s.health)
	s.app.Get("/config", s.publicConfig)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	s.app.Post("/auth/login", s.login)
	s.app.Post("/auth/logout", s.logout)
	s.app.Get("/auth/callback/:provider", s.oauthCallback)

	auth := s.requireSession
	s.app.Get("/auth/me", auth, s.me)
	s.app.Get("/auth/authorize/:provider", auth, s.authorize)

	s.app.Get("/accounts", auth, s.listAccounts)
	s.app.Post("/accounts", auth, s.createAccount)
	s.app.Get("/accounts/:id", auth, s.getAccount)
	s.app.Patch("/accounts/:id", auth, s.updateAccount)
	s.app.Delete("/accounts/:id", auth, s.deleteAccount)
	s.app.Get("/accounts/:id/status", auth, s.accountStatus)

	s.app.Get("/accounts/:id/items", auth, s.items)
	s.app.Post("/accounts/:id/sync", auth, s.syncAccount)
	s.app.Post("/accounts/:id/emails/:itemID/archive", auth, s.archive)
	s.app.Post("/accounts/:id/emails/:itemID/star", auth, s.star)
	s.app.Post("/accounts/:id/tasks/:taskID/complete", auth, s.complete)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

type providerInfo struct {
	Configured bool   `json:"configured"`
	ClientID   string `json:"client_id,omitempty"`
}

func info(c model.OAuthClient) providerInfo {
	return providerInfo{Configured: c.Configured(), ClientID: c.ClientID}
}

func (s *Server) publicConfig(c *fiber.Ctx) error {
	p := s.cfg.Providers
	return c.JSON(fiber.Map{
		"pin_required": s.cfg.Pin != "",
		"providers": fiber.Map{
			oauth.Microsoft: info(p.Microsoft),
			oauth.Google:    info(p.Google),
			oauth.TickTick:  info(p.TickTick),
			oauth.Yahoo:     info(p.Yahoo),
			"icloud":        fiber.Map{"configured": true, "requires_app_password": true},
		},
	})
}
