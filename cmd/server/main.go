package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bienestar/internal/config"
	"bienestar/internal/crypto"
	"bienestar/internal/handlers"
	"bienestar/internal/logging"
	"bienestar/internal/metrics"
	"bienestar/internal/middleware"
	"bienestar/internal/preflight"
	"bienestar/internal/remote"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting bienestar proxy...")

	cfg := config.Load()
	if preflight.HasFailures(preflight.NewChecker(cfg, nil).RunAll(context.Background())) {
		log.Fatal("❌ Pre-flight checks failed, refusing to start")
	}
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	if cfg.RandomIV {
		log.Println("🔐 Random IV enabled: envelopes are not readable by legacy clients")
	} else {
		log.Println("⚠️  Using the secret-derived IV for wire compatibility (identical plaintexts give identical ciphertexts)")
	}

	codec, err := crypto.NewCodec(crypto.CodecConfig{Secret: cfg.SharedSecret, RandomIV: cfg.RandomIV})
	if err != nil {
		log.Fatalf("❌ Failed to initialize codec: %v", err)
	}

	metrics.Init()

	client := remote.NewClient(remote.Options{
		BaseURL:         cfg.EvalAPIURL,
		APIKey:          cfg.EvalAPIKey,
		Timeout:         cfg.FetchTimeout,
		RPS:             cfg.UpstreamRPS,
		BreakerFailures: uint32(cfg.BreakerFailures),
	}, codec)
	log.Printf("✅ Evaluations API client ready (timeout %v, %.1f req/s, breaker after %d failures)",
		cfg.FetchTimeout, cfg.UpstreamRPS, cfg.BreakerFailures)

	app := fiber.New(fiber.Config{
		AppName:      "bienestar proxy",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.FetchTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // 1MB, a single assessment is a few KB
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("bienestar")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.RateLimitAPI)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: API=%d/min, Content=%d/min, Envelope=%d/min",
		rateLimitConfig.APIMax,
		rateLimitConfig.ContentMax,
		rateLimitConfig.EnvelopeMax,
	)

	if strings.TrimSpace(cfg.WordPressURL) == "" {
		log.Println("⚠️  WORDPRESS_URL not set, /api/wp/* will answer 503")
	}
	setupRoutes(app, cfg, rateLimitConfig, client, codec)

	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")
		if err := app.ShutdownWithTimeout(cfg.FetchTimeout + 5*time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// setupRoutes registers every public route on app
func setupRoutes(app *fiber.App, cfg *config.Config, limits *middleware.RateLimitConfig, client *remote.Client, codec *crypto.Codec) {
	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(client)
	assessmentHandler := handlers.NewAssessmentHandler(client, codec)
	proxyHandler := handlers.NewProxyHandler(client)
	wordPressHandler := handlers.NewWordPressHandler(cfg.WordPressURL, cfg.WordPressCacheTTL)
	envelopeHandler := handlers.NewEnvelopeHandler(codec)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")

	assessments := api.Group("/assessments", middleware.APIRateLimiter(limits))
	assessments.Get("/:userId", assessmentHandler.List)
	assessments.Post("/:userId", assessmentHandler.Save)

	api.Get("/proxy/evaluaciones", middleware.APIRateLimiter(limits), proxyHandler.Evaluaciones)
	api.Get("/wp/*", middleware.ContentRateLimiter(limits), wordPressHandler.Proxy)

	envelope := api.Group("/envelope", middleware.EnvelopeRateLimiter(limits))
	envelope.Post("/encrypt", envelopeHandler.Encrypt)
}
