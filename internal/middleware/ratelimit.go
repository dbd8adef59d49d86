package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Evaluations API routes (per IP)
	APIMax        int
	APIExpiration time.Duration

	// WordPress pass-through (per IP) - cached, so cheaper
	ContentMax        int
	ContentExpiration time.Duration

	// Envelope encrypt/decrypt (per IP)
	EnvelopeMax        int
	EnvelopeExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// 120/min = 2 req/sec, each one costs an upstream PHP call
		APIMax:        120,
		APIExpiration: 1 * time.Minute,

		ContentMax:        300,
		ContentExpiration: 1 * time.Minute,

		EnvelopeMax:        60,
		EnvelopeExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig applies the configured API limit and environment overrides
func LoadRateLimitConfig(apiMax int) *RateLimitConfig {
	config := DefaultRateLimitConfig()
	if apiMax > 0 {
		config.APIMax = apiMax
	}

	if v := os.Getenv("RATE_LIMIT_CONTENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.ContentMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENVELOPE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.EnvelopeMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.APIMax = 1000
		config.ContentMax = 1000
		config.EnvelopeMax = 1000
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// APIRateLimiter limits calls that reach the evaluations API
func APIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return perIP("api", config.APIMax, config.APIExpiration, "Too many requests. Please slow down.")
}

// ContentRateLimiter limits WordPress pass-through requests
func ContentRateLimiter(config *RateLimitConfig) fiber.Handler {
	return perIP("content", config.ContentMax, config.ContentExpiration, "Too many content requests. Please wait.")
}

// EnvelopeRateLimiter limits encrypt/decrypt requests
func EnvelopeRateLimiter(config *RateLimitConfig) fiber.Handler {
	return perIP("envelope", config.EnvelopeMax, config.EnvelopeExpiration, "Too many envelope requests. Please wait.")
}

func perIP(prefix string, max int, expiration time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return prefix + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] %s limit reached for IP: %s on %s", prefix, c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       message,
				"retry_after": int(expiration.Seconds()),
			})
		},
	})
}
