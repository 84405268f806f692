package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/study-ingest/database"
)

// Pinger is any dependency the health check should probe (redis, storage)
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports database and optional dependency health
type HealthHandler struct {
	store  database.Storage
	probes map[string]Pinger
}

// NewHealthHandler creates a health handler; probes may be empty
func NewHealthHandler(store database.Storage, probes map[string]Pinger) *HealthHandler {
	return &HealthHandler{store: store, probes: probes}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	checks := fiber.Map{"database": "ok"}
	healthy := true

	if err := h.store.HealthCheck(); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	for name, p := range h.probes {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "ok"
	code := fiber.StatusOK
	if !healthy {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"status": status, "checks": checks})
}
