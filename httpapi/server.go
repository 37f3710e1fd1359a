package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/isdmx/casegen/config"
	"github.com/isdmx/casegen/generator"
	"github.com/isdmx/casegen/languages"
	"github.com/isdmx/casegen/sandbox"
)

// Generator is the part of generator.Service the REST API uses.
type Generator interface {
	Generate(ctx context.Context, req sandbox.ExecutionRequest) (sandbox.Outcome, error)
	Languages() []languages.LanguageInfo
}

// Server serves the REST API.
type Server struct {
	config    *config.Config
	logger    *zap.Logger
	generator Generator
	app       *fiber.App
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates the fiber app and registers its routes.
func New(cfg *config.Config, logger *zap.Logger, gen Generator) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		generator: gen,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "casegen",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(cors.New())
	s.app.Use(s.logRequest)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	s.app.Get("/languages", s.languagesHandler)

	exec := s.app.Group("/exec")
	exec.Post("/gen", s.generateHandler)
}

func (s *Server) generateHandler(c *fiber.Ctx) error {
	var req sandbox.ExecutionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}

	ctx, stop := watchDisconnect(c.UserContext(), c.Context().Conn())
	defer stop()

	outcome, err := s.generator.Generate(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(outcome)
}

func (s *Server) languagesHandler(c *fiber.Ctx) error {
	return c.JSON(s.generator.Languages())
}

// handleError maps service errors to status codes. Anything that is not a
// request error is logged and reported as a bare internal error.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return c.Status(fe.Code).JSON(errorResponse{Error: fe.Message})
	case errors.Is(err, generator.ErrUnknownLanguage):
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: err.Error()})
	case generator.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	s.logger.Error("Request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("kind", string(sandbox.KindOf(err))),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
}

func (s *Server) logRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("Request served",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return err
}

// Listen serves on server.rest_port until Shutdown.
func (s *Server) Listen() error {
	port := s.config.Server.RESTPort
	s.logger.Info("starting REST API", zap.Int("port", port))
	return s.app.Listen(fmt.Sprintf(":%d", port))
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}
