package handlers

import (
	"errors"
	"log"
	"strings"
	"time"

	"bienestar/internal/crypto"
	"bienestar/internal/models"
	"bienestar/internal/normalize"
	"bienestar/internal/reconcile"
	"bienestar/internal/remote"
	"bienestar/internal/unwrap"

	"github.com/gofiber/fiber/v2"
)

// AssessmentHandler runs the fetch/decode/normalize pipeline on the server
// for clients that cannot hold the shared secret.
type AssessmentHandler struct {
	remote reconcile.Remote
	codec  *crypto.Codec
}

// NewAssessmentHandler creates a new assessment handler
func NewAssessmentHandler(r reconcile.Remote, codec *crypto.Codec) *AssessmentHandler {
	return &AssessmentHandler{remote: r, codec: codec}
}

// List handles GET /api/assessments/:userId
func (h *AssessmentHandler) List(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userId is required",
		})
	}

	body, err := h.remote.FetchAssessments(c.UserContext(), userID)
	if err != nil {
		log.Printf("❌ [ASSESSMENTS] Fetch failed for user %s: %v", userID, err)
		return c.Status(upstreamStatus(err)).JSON(fiber.Map{
			"error": "failed to fetch assessments",
		})
	}

	batch, err := reconcile.Decode(h.codec, body)
	if err != nil {
		log.Printf("⚠️ [ASSESSMENTS] Could not decode response for user %s: %v", userID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": decodeMessage(err),
		})
	}

	status := models.StatusOK
	if batch.Empty {
		status = "EMPTY"
	}

	if len(batch.Rejected) > 0 {
		log.Printf("⚠️ [ASSESSMENTS] Dropped %d malformed records for user %s", len(batch.Rejected), userID)
	}

	reconcile.SortNewestFirst(batch.Records)
	return c.JSON(fiber.Map{
		"status":  status,
		"records": batch.Records,
		"dropped": len(batch.Rejected),
	})
}

// Save handles POST /api/assessments/:userId
func (h *AssessmentHandler) Save(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userId is required",
		})
	}

	var rec models.AssessmentRecord
	if err := c.BodyParser(&rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if rec.ID == "" {
		rec = models.NewLocalRecord(rec.Data, time.Now())
	}
	ts, ok := normalize.CanonicalTimestamp(rec.Timestamp)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "timestamp is not a valid date",
		})
	}
	rec.Timestamp = ts
	if rec.Data.PriorityAreas == nil {
		rec.Data.PriorityAreas = []string{}
	}
	if len(rec.Data.Respuestas) == 0 {
		rec.Data.Respuestas = nil
	}
	if err := normalize.Validate(&rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	resp, err := h.remote.SaveAssessment(c.UserContext(), userID, rec)
	if err != nil {
		log.Printf("❌ [ASSESSMENTS] Save failed for user %s: %v", userID, err)
		return c.Status(upstreamStatus(err)).JSON(fiber.Map{
			"error": "failed to save assessment",
		})
	}
	if !resp.IsOK() {
		log.Printf("⚠️ [ASSESSMENTS] Save rejected for user %s: %s", userID, resp.Message)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"status":  resp.Status,
			"message": resp.Message,
		})
	}

	log.Printf("✅ [ASSESSMENTS] Saved assessment %s for user %s", rec.ID, userID)
	return c.JSON(fiber.Map{
		"status":  resp.Status,
		"message": resp.Message,
		"id":      rec.ID,
	})
}

// upstreamStatus maps an upstream error to the status returned to the caller
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, remote.ErrCircuitOpen):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, remote.ErrTransport):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}

func decodeMessage(err error) string {
	var uerr *unwrap.Error
	switch {
	case errors.As(err, &uerr):
		return "upstream response is not JSON"
	case errors.Is(err, crypto.ErrDecrypt):
		return "upstream payload could not be decrypted"
	case errors.Is(err, normalize.ErrBatchShape):
		return "upstream payload is not a list of assessments"
	case errors.Is(err, reconcile.ErrRemote):
		return err.Error()
	default:
		return "failed to decode upstream response"
	}
}
