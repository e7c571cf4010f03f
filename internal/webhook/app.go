package webhook

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
)

// NewApp builds the fiber app serving the health and trigger routes
func NewApp(health *HealthHandler, trigger *ReconcileHandler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "gsuite-cloud-users-driver " + serviceVersion,
		ErrorHandler: apperrors.NewHandler().FiberErrorHandler(),
	})

	// Core middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New())

	// Health and monitoring routes
	app.Get("/health", health.HandleHealth)
	app.Get("/ready", health.HandleReady)

	// Trigger
	app.Post("/reconcile", trigger.HandleReconcile)

	return app
}
