package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"bienestar/internal/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"
)

const (
	maxContentSize   = 5 * 1024 * 1024 // 5MB max per WordPress response
	wpRequestTimeout = 15 * time.Second
)

type cachedContent struct {
	data        []byte
	contentType string
}

// WordPressHandler passes read-only requests through to the WordPress REST API
// and keeps successful responses in memory for a while.
type WordPressHandler struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
}

// NewWordPressHandler creates a new WordPress pass-through handler
func NewWordPressHandler(baseURL string, ttl time.Duration) *WordPressHandler {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &WordPressHandler{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: wpRequestTimeout},
		cache:   cache.New(ttl, 2*ttl),
	}
}

// Proxy handles GET /api/wp/*
func (h *WordPressHandler) Proxy(c *fiber.Ctx) error {
	if h.baseURL == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "WordPress content is not configured",
		})
	}

	path := strings.TrimPrefix(c.Params("*"), "/")
	if strings.Contains(path, "..") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid path",
		})
	}

	target := h.baseURL + "/" + path
	if qs := string(c.Request().URI().QueryString()); qs != "" {
		target += "?" + qs
	}

	if v, found := h.cache.Get(target); found {
		cached := v.(*cachedContent)
		metrics.RecordContentCache(true)
		c.Set(fiber.HeaderContentType, cached.contentType)
		c.Set("X-Cache", "HIT")
		return c.Send(cached.data)
	}
	metrics.RecordContentCache(false)

	data, contentType, err := h.fetch(c, target)
	if err != nil {
		log.Printf("❌ [WP-PROXY] %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to fetch content",
		})
	}

	h.cache.SetDefault(target, &cachedContent{data: data, contentType: contentType})

	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-Cache", "MISS")
	return c.Send(data)
}

func (h *WordPressHandler) fetch(c *fiber.Ctx, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(c.UserContext(), http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("upstream returned %d for %s", resp.StatusCode, truncateURL(target))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxContentSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > maxContentSize {
		return nil, "", fmt.Errorf("response too large: %d bytes for %s", len(data), truncateURL(target))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = fiber.MIMEApplicationJSON
	}
	return data, contentType, nil
}

// truncateURL truncates URL for logging
func truncateURL(u string) string {
	if len(u) > 80 {
		return u[:77] + "..."
	}
	return u
}
