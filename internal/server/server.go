// Package server is the HTTP surface: task lookup with on-read
// reconciliation, task listing, and workbook export.
package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/export"
	"github.com/taskbridge/taskbridge/internal/reconcile"
	"github.com/taskbridge/taskbridge/internal/repository"
)

// Server owns the fiber app and its routes.
type Server struct {
	cfg common.ServerConfig
	app *fiber.App
	log *slog.Logger
}

func New(cfg common.ServerConfig, svc *reconcile.Service, tasks repository.TaskStore, exporter *export.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "taskbridge",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin,Accept,Authorization,Content-Type,X-User,X-Roles,X-Tenant-ID",
		MaxAge:       300,
	}))
	app.Use(requestScope(logger))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	h := &taskHandler{svc: svc, tasks: tasks, exporter: exporter, log: logger}
	api := app.Group(cfg.BaseAPIPrefix)
	// Registration order matters: the export route must not be swallowed by
	// the id parameter.
	api.Get("/tasks/export", h.exportTasks)
	api.Get("/tasks/:id", h.getTask)
	api.Get("/tasks", h.listTasks)

	return &Server{cfg: cfg, app: app, log: logger}
}

// App exposes the fiber app for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	s.log.Info("server.http.listening", "addr", s.cfg.HTTPAddr)
	return s.app.Listen(s.cfg.HTTPAddr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestScope stamps every request with an id and the caller identity from
// the auth proxy's headers, then logs the outcome.
func requestScope(log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		identity := common.Identity{
			Subject: c.Get("X-User"),
			Roles:   splitRoles(c.Get("X-Roles")),
			Tenant:  c.Get("X-Tenant-ID"),
		}
		ctx := common.WithRequestID(c.UserContext(), reqID)
		ctx = common.WithIdentity(ctx, identity)
		c.SetUserContext(ctx)
		c.Set("X-Request-ID", reqID)

		err := c.Next()
		log.Info("server.http.request",
			"req_id", reqID,
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
		)
		return err
	}
}

func splitRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
