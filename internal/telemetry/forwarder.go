// Package telemetry forwards batches of telemetry events to the platform's
// telemetry service.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/worker"
)

// Request envelope constants expected by the telemetry service
const (
	RequestID      = "api.sunbird.telemetry"
	RequestVersion = "3.0"
)

// ErrCircuitOpen is returned while the telemetry endpoint is being skipped
var ErrCircuitOpen = errors.New("telemetry circuit breaker is open")

// Config configures a Forwarder. Zero values fall back to defaults.
type Config struct {
	BaseURL string
	APIPath string
	Timeout time.Duration

	// MaxAttempts bounds deliveries of one batch, first try included
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// BreakerFailures consecutive failed batches open the circuit for BreakerTimeout
	BreakerFailures int
	BreakerTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = time.Minute
	}
}

// Forwarder posts telemetry batches with retries behind a circuit breaker
type Forwarder struct {
	cfg        Config
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	newMsgID   func() string
}

// NewForwarder creates a new telemetry forwarder
func NewForwarder(cfg Config) *Forwarder {
	cfg.setDefaults()
	return &Forwarder{
		cfg: cfg,
		url: strings.TrimRight(cfg.BaseURL, "/") + cfg.APIPath,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker:  newBreaker("telemetry", cfg.BreakerFailures, cfg.BreakerTimeout),
		newMsgID: uuid.NewString,
	}
}

// newBreaker trips after failures consecutive failed batches and lets a
// single trial batch through once timeout has passed
func newBreaker(name string, failures int, timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// BuildRequest wraps a batch in the telemetry service envelope
func (f *Forwarder) BuildRequest(batch model.TelemetryBatch) model.TelemetryRequest {
	req := model.TelemetryRequest{
		ID:     RequestID,
		Ver:    RequestVersion,
		Ets:    batch.Ets,
		Params: model.TelemetryParams{MsgID: f.newMsgID()},
	}
	if len(batch.Events) > 0 {
		req.Events = batch.Events
	}
	return req
}

// HandleTask decodes a batch from the task payload and forwards it
func (f *Forwarder) HandleTask(ctx context.Context, task worker.Task) error {
	var batch model.TelemetryBatch
	if err := json.Unmarshal(task.Payload, &batch); err != nil {
		slog.Error("Malformed telemetry batch", "error", err, "payload_size", len(task.Payload))
		return nil
	}
	return f.Forward(ctx, batch)
}

// Forward posts one batch. The telemetry service has no response contract
// beyond success or failure, so the result is only logged and returned.
func (f *Forwarder) Forward(ctx context.Context, batch model.TelemetryBatch) error {
	request := f.BuildRequest(batch)
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode telemetry request: %w", err)
	}

	logger := slog.With("msg_id", request.Params.MsgID, "events", len(request.Events))

	_, err = f.breaker.Execute(func() (any, error) {
		return nil, f.deliver(ctx, logger, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logger.Warn("Circuit breaker is open, dropping telemetry batch", "circuit_state", f.CircuitState())
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

// deliver posts body until it is accepted, a non-retryable status comes
// back, attempts run out or ctx ends
func (f *Forwarder) deliver(ctx context.Context, logger *slog.Logger, body []byte) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.cfg.InitialInterval
	eb.MaxInterval = f.cfg.MaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(f.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		statusCode, err := f.post(ctx, body)
		if err == nil {
			logger.Info("Telemetry forwarded", "attempt", attempt, "status_code", statusCode)
			return nil
		}
		if !retryable(statusCode) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		logger.Warn("Telemetry forwarding failed, retrying",
			"attempt", attempt,
			"next_retry_ms", wait.Milliseconds(),
			"error", err,
		)
	})
	if err != nil {
		logger.Error("Telemetry forwarding failed", "attempts", attempt, "error", err)
		return fmt.Errorf("telemetry forwarding failed after %d attempts: %w", attempt, err)
	}
	return nil
}

// retryable covers network errors (no status), throttling and server errors
func retryable(statusCode int) bool {
	return statusCode == 0 || statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// post performs a single delivery attempt
func (f *Forwarder) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// limit to 1KB, the body is only used for logging
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("telemetry service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp.StatusCode, nil
}

// CircuitState returns the current circuit breaker state
func (f *Forwarder) CircuitState() string {
	return f.breaker.State().String()
}
