package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"bienestar/internal/crypto"
	"bienestar/internal/metrics"
	"bienestar/internal/models"
	"bienestar/internal/unwrap"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Query values understood by the evaluations API
const (
	TipoGetEvaluacion  = "getEvaluacion"
	TipoSaveEvaluacion = "saveEvaluacion"
)

const maxBodySize = 10 * 1024 * 1024 // 10MB

var (
	// ErrTransport covers network errors, timeouts and cancellation.
	ErrTransport = errors.New("upstream transport failure")

	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("upstream circuit open")
)

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	Code int
	Body string // bounded preview
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.Code)
}

// Options configures a Client
type Options struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RPS             float64 // token-bucket refill; <= 0 disables throttling
	BreakerFailures uint32  // consecutive failures before the breaker opens
	HTTPClient      *http.Client
}

// Client talks to the PHP evaluations API. Every identifying or
// payload field is sent as an encrypted envelope.
type Client struct {
	baseURL string
	apiKey  string
	codec   *crypto.Codec
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient creates a new evaluations API client
func NewClient(opts Options, codec *crypto.Codec) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), int(opts.RPS*2)+1)
	}

	threshold := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "evaluations-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("⚡ [UPSTREAM] Circuit breaker '%s' state changed from %v to %v", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation and client errors say nothing about upstream health
			if errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil
		},
	})

	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		codec:   codec,
		http:    httpClient,
		breaker: breaker,
		limiter: limiter,
	}
}

// FetchAssessments requests the user's remote history and returns the raw body of a 2xx response.
// The caller unwraps and decodes it.
func (c *Client) FetchAssessments(ctx context.Context, userID string) (string, error) {
	q := url.Values{}
	q.Set("tipo", TipoGetEvaluacion)
	q.Set("usuario", c.codec.Encrypt(userID).String())
	return c.get(ctx, "fetch", q)
}

// SaveAssessment sends one record to the remote history.
// A nil error means the API answered; check IsOK on the response for acceptance.
func (c *Client) SaveAssessment(ctx context.Context, userID string, rec models.AssessmentRecord) (*models.APIResponse, error) {
	payload, err := c.codec.EncryptJSON(rec)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("tipo", TipoSaveEvaluacion)
	q.Set("usuario", c.codec.Encrypt(userID).String())
	q.Set("evaluacion", payload.String())

	body, err := c.get(ctx, "save", q)
	if err != nil {
		return nil, err
	}

	raw, err := unwrap.Unwrap(body)
	if err != nil {
		return nil, err
	}

	var resp models.APIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("save response is not an API envelope: %w", err)
	}
	return &resp, nil
}

// Forward passes caller-supplied query values through to the API with the server's key.
func (c *Client) Forward(ctx context.Context, query url.Values) (string, error) {
	q := url.Values{}
	for k, v := range query {
		if k == "apikey" {
			continue
		}
		q[k] = v
	}
	return c.get(ctx, "forward", q)
}

// BreakerState reports the circuit breaker state for health checks
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) get(ctx context.Context, op string, q url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid evaluations API URL: %w", err)
	}
	merged := u.Query()
	for k, v := range q {
		merged[k] = v
	}
	merged.Set("apikey", c.apiKey)
	u.RawQuery = merged.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RecordUpstream(op, 0, "throttled")
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, u.String())
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.RecordUpstream(op, elapsed, "circuit_open")
			return "", fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		case errors.Is(err, ErrTransport):
			metrics.RecordUpstream(op, elapsed, "transport")
		default:
			metrics.RecordUpstream(op, elapsed, "status")
		}
		return "", err
	}

	metrics.RecordUpstream(op, elapsed, "")
	return result.(string), nil
}

func (c *Client) do(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", ErrTransport, stripURL(err))
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, stripURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode, Body: unwrap.Preview(string(body))}
	}
	return string(body), nil
}

// stripURL drops the request URL, and with it the API key, from a *url.Error
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
