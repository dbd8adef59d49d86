package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// BreakerReporter exposes the upstream circuit breaker state
type BreakerReporter interface {
	BreakerState() string
}

// HealthHandler handles health check requests
type HealthHandler struct {
	upstream BreakerReporter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(upstream BreakerReporter) *HealthHandler {
	return &HealthHandler{upstream: upstream}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"upstream":  h.upstream.BreakerState(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
