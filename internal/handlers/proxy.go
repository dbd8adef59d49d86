package handlers

import (
	"context"
	"log"
	"net/url"

	"bienestar/internal/unwrap"

	"github.com/gofiber/fiber/v2"
)

// Forwarder passes a query through to the evaluations API
type Forwarder interface {
	Forward(ctx context.Context, query url.Values) (string, error)
}

// ProxyHandler is the raw evaluations API pass-through used by older clients
type ProxyHandler struct {
	upstream Forwarder
}

// NewProxyHandler creates a new proxy handler
func NewProxyHandler(upstream Forwarder) *ProxyHandler {
	return &ProxyHandler{upstream: upstream}
}

// Evaluaciones handles GET /api/proxy/evaluaciones?tipo=...&usuario=...
// The server's apikey replaces any key sent by the caller.
func (h *ProxyHandler) Evaluaciones(c *fiber.Ctx) error {
	query, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid query string",
		})
	}
	if query.Get("tipo") == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "tipo parameter is required",
		})
	}

	body, err := h.upstream.Forward(c.UserContext(), query)
	if err != nil {
		log.Printf("❌ [PROXY] Forward failed for tipo=%s: %v", query.Get("tipo"), err)
		return c.Status(upstreamStatus(err)).JSON(fiber.Map{
			"error": "failed to reach evaluations API",
		})
	}

	payload, err := unwrap.Unwrap(body)
	if err != nil {
		log.Printf("⚠️ [PROXY] Unwrap failed for tipo=%s: %v", query.Get("tipo"), err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "upstream response is not JSON",
		})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(payload)
}
