package handlers

import (
	"bienestar/internal/crypto"

	"github.com/gofiber/fiber/v2"
)

// EnvelopeHandler lets clients without the shared secret build envelopes for the API.
// Caller-supplied envelopes are never decrypted.
type EnvelopeHandler struct {
	codec *crypto.Codec
}

// NewEnvelopeHandler creates a new envelope handler
func NewEnvelopeHandler(codec *crypto.Codec) *EnvelopeHandler {
	return &EnvelopeHandler{codec: codec}
}

type encryptRequest struct {
	Plaintext string `json:"plaintext"`
}

// Encrypt handles POST /api/envelope/encrypt
func (h *EnvelopeHandler) Encrypt(c *fiber.Ctx) error {
	var req encryptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	return c.JSON(h.codec.Encrypt(req.Plaintext))
}
