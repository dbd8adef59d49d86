package preflight

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"bienestar/internal/config"
	"bienestar/internal/crypto"
	"bienestar/internal/history"
	"bienestar/internal/jobs"
)

// probeUser owns the slot the store check reads. It is never written.
const probeUser = "__preflight__"

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before the proxy or a sync starts
type Checker struct {
	cfg   *config.Config
	store history.Store // nil skips the store check
}

// NewChecker creates a new preflight checker
func NewChecker(cfg *config.Config, store history.Store) *Checker {
	return &Checker{cfg: cfg, store: store}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkConfiguration(),
		c.checkCodec(),
		c.checkSchedule(),
		c.checkHistoryEncryption(),
	}
	if c.store != nil {
		results = append(results, c.checkHistoryStore(ctx))
	}

	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkConfiguration() CheckResult {
	if err := c.cfg.Validate(); err != nil {
		return CheckResult{
			Name:    "Configuration",
			Status:  "fail",
			Message: "Required settings are missing or invalid",
			Error:   err,
		}
	}

	u, err := url.Parse(c.cfg.EvalAPIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return CheckResult{
			Name:    "Configuration",
			Status:  "fail",
			Message: fmt.Sprintf("EVAL_API_URL is not an absolute URL: %q", c.cfg.EvalAPIURL),
			Error:   err,
		}
	}
	if u.Scheme != "https" && c.cfg.IsProduction() {
		return CheckResult{
			Name:    "Configuration",
			Status:  "warning",
			Message: "EVAL_API_URL is not HTTPS in production",
		}
	}

	return CheckResult{
		Name:    "Configuration",
		Status:  "pass",
		Message: "Evaluations API and shared secret configured",
	}
}

// checkCodec encrypts and decrypts a sample payload with the configured secret
func (c *Checker) checkCodec() CheckResult {
	codec, err := crypto.NewCodec(crypto.CodecConfig{Secret: c.cfg.SharedSecret, RandomIV: c.cfg.RandomIV})
	if err != nil {
		return CheckResult{
			Name:    "Envelope Codec",
			Status:  "fail",
			Message: "Cannot build the codec from SHARED_SECRET",
			Error:   err,
		}
	}

	const sample = `{"status":"OK"}`
	got, err := codec.Decrypt(codec.Encrypt(sample))
	if err != nil || got != sample {
		return CheckResult{
			Name:    "Envelope Codec",
			Status:  "fail",
			Message: "Round trip did not return the original payload",
			Error:   err,
		}
	}

	if c.cfg.RandomIV {
		return CheckResult{
			Name:    "Envelope Codec",
			Status:  "warning",
			Message: "RANDOM_IV is on, legacy clients cannot read our envelopes",
		}
	}
	return CheckResult{
		Name:    "Envelope Codec",
		Status:  "pass",
		Message: "Round trip OK (secret-derived IV)",
	}
}

func (c *Checker) checkSchedule() CheckResult {
	if _, err := jobs.ValidateSchedule(c.cfg.SyncSchedule); err != nil {
		return CheckResult{
			Name:    "Sync Schedule",
			Status:  "fail",
			Message: fmt.Sprintf("SYNC_SCHEDULE %q is not a 5-field cron expression", c.cfg.SyncSchedule),
			Error:   err,
		}
	}
	return CheckResult{
		Name:    "Sync Schedule",
		Status:  "pass",
		Message: c.cfg.SyncSchedule,
	}
}

func (c *Checker) checkHistoryEncryption() CheckResult {
	if !c.cfg.HistoryEncrypt {
		return CheckResult{
			Name:    "History Encryption",
			Status:  "warning",
			Message: "HISTORY_ENCRYPT is off, history is stored as plain JSON",
		}
	}
	return CheckResult{
		Name:    "History Encryption",
		Status:  "pass",
		Message: "History slots are sealed at rest",
	}
}

// checkHistoryStore reads a probe slot to verify the backend answers
func (c *Checker) checkHistoryStore(ctx context.Context) CheckResult {
	if _, err := c.store.Load(ctx, probeUser); err != nil {
		return CheckResult{
			Name:    "History Store",
			Status:  "fail",
			Message: "Cannot read from the history store",
			Error:   err,
		}
	}
	return CheckResult{
		Name:    "History Store",
		Status:  "pass",
		Message: "History store reachable",
	}
}
