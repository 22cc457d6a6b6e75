// Package handlers implements the HTTP surface of the autodialer.
package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/autodialer/internal/app"
	"github.com/acme/autodialer/internal/feed"
	"github.com/acme/autodialer/internal/interpreter"
	"github.com/acme/autodialer/internal/scheduler"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container   *app.Container
	engine      *scheduler.Engine
	feed        *feed.Service
	interpreter *interpreter.Interpreter
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	return &HandlerSet{
		container:   container,
		engine:      container.Engine(),
		feed:        container.Feed(),
		interpreter: container.Interpreter(),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/:id/calls", h.campaignCalls)
	campaigns.Post("/:id/cancel", h.cancelCampaign)

	calls := v1.Group("/calls")
	calls.Get("/overview", h.overview)
	calls.Get("/export", h.exportCSV)
	calls.Post("/", h.createCall)

	v1.Post("/ai/prompt", h.promptCall)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if h.container.Postgres != nil {
		if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
			errs["postgres"] = err.Error()
		}
	}

	if h.container.Redis != nil {
		if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
			errs["redis"] = err.Error()
		}
	}

	if h.container.Scylla != nil {
		if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
			errs["scylla"] = err.Error()
		}
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
