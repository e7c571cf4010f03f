package webhook

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/runlock"
)

const (
	serviceName    = "gsuite-cloud-users-driver"
	serviceVersion = "v1.0.0"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	config    *config.Config
	locker    runlock.Locker
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(cfg *config.Config, locker runlock.Locker) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		locker:    locker,
		startTime: time.Now(),
	}
}

// HandleHealth returns comprehensive health status
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	uptime := time.Since(h.startTime)

	health := fiber.Map{
		"status":         "healthy",
		"service":        serviceName,
		"version":        serviceVersion,
		"uptime_seconds": int64(uptime.Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"run_mode":       h.config.RunMode,
		"security_mode":  h.config.TriggerSecurityMode(),
		"trigger_secret": h.config.HasTriggerSecret(),
		"run_lock":       h.lockBackend(),
		"target_domain":  h.config.Directory.Domain,
	}

	return c.JSON(health)
}

// HandleReady returns readiness status for Kubernetes
func (h *HealthHandler) HandleReady(c *fiber.Ctx) error {
	ready := fiber.Map{
		"ready":          true,
		"service":        serviceName,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"trigger_secret": h.config.HasTriggerSecret(),
		"run_lock":       h.lockBackend(),
	}

	if h.config.Trigger.EnableVerification && !h.config.HasTriggerSecret() {
		ready["ready"] = false
		ready["reason"] = "Trigger verification enabled but no secret configured"
		return c.Status(fiber.StatusServiceUnavailable).JSON(ready)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := h.locker.Ping(ctx); err != nil {
		ready["ready"] = false
		ready["reason"] = "Run lock backend unreachable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(ready)
	}

	return c.JSON(ready)
}

func (h *HealthHandler) lockBackend() string {
	if _, ok := h.locker.(*runlock.RedisLocker); ok {
		return "redis"
	}
	return "memory"
}
