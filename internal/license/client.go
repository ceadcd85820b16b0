package license

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

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// VerifyPath is the authority's verification route
const VerifyPath = "/api/v1/license/verify"

const maxResponseBytes = 64 << 10

// Client calls the license authority. Every call carries the configured
// timeout and runs through a circuit breaker so an unreachable authority
// fails fast.
type Client struct {
	endpoint string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates an authority client from the license configuration
func NewClient(cfg config.LicenseConfig, logger *slog.Logger) *Client {
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = config.DefaultCheckTimeout
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}

	c := &Client{
		endpoint: strings.TrimRight(cfg.AuthorityURL, "/") + VerifyPath,
		http:     &http.Client{Timeout: timeout},
		timeout:  timeout,
		logger:   infrastructure.WithComponent(logger, "license_client"),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "license-authority",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("authority circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return c
}

// Verify sends one verification request. Any returned error means the
// authority could not give an answer and is transient for the caller.
func (c *Client) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
		}
		return nil, err
	}
	return out.(*domain.VerifyResponse), nil
}

// BreakerState reports the circuit breaker state for health output
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) do(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", config.AppName+"-license-client/"+config.AppVersion)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WarnContext(ctx, "authority request failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrAuthorityUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WarnContext(ctx, "authority returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var out domain.VerifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.ActualStatus == "" {
		return nil, fmt.Errorf("%w: missing actual_status", ErrMalformedResponse)
	}

	c.logger.DebugContext(ctx, "authority responded",
		slog.String("license_key", infrastructure.MaskLicenseKey(req.LicenseKey)),
		slog.String("actual_status", string(out.ActualStatus)),
		slog.Duration("duration", time.Since(start)))
	return &out, nil
}
