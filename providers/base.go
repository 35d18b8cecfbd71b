package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/routecc/rcc/core"
)

// Version of the gateway, stamped into the southbound User-Agent
const Version = "1.0.0"

// UserAgent is sent on every southbound request
var UserAgent = fmt.Sprintf("rcc-gateway/%s", Version)

// BaseAdapter provides common functionality for all provider adapters:
// the HTTP client, outcome classification of transport failures, logging,
// and tracing. Protocol subpackages embed it.
type BaseAdapter struct {
	HTTPClient *http.Client
	Logger     core.Logger
	Telemetry  core.Telemetry

	// ProviderID is the configured provider id (for logs and traces)
	ProviderID string
	// BaseURL is the provider's absolute endpoint root
	BaseURL string
	// Headers are provider-level default headers applied to every call
	Headers map[string]string
}

// NewBaseAdapter creates a base adapter with defaults
func NewBaseAdapter(providerID, baseURL string, timeout time.Duration, logger core.Logger) *BaseAdapter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &BaseAdapter{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Logger:     logger,
		Telemetry:  &core.NoOpTelemetry{},
		ProviderID: providerID,
		BaseURL:    baseURL,
	}
}

// StartSpan opens a telemetry span, tolerating a nil Telemetry
func (b *BaseAdapter) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	if b.Telemetry == nil {
		return ctx, &core.NoOpSpan{}
	}
	return b.Telemetry.StartSpan(ctx, name)
}

// Host returns the host part of the adapter's base URL, used by the error
// classifier for provider-family detection.
func (b *BaseAdapter) Host() string {
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Do performs exactly one upstream HTTP call and classifies the outcome.
// Transport failures become network_error, elapsed deadlines become
// timeout, and HTTP outcomes are classified from status and body. Streaming
// responses (wire.Stream with a 200) return the unread body as a stream.
func (b *BaseAdapter) Do(ctx context.Context, wire *WireRequest) (*WireResponse, core.Classification, error) {
	req, err := http.NewRequestWithContext(ctx, wire.Method, wire.URL, bytes.NewReader(wire.Body))
	if err != nil {
		return nil, core.ClassBadRequest, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range b.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range wire.Header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)

	started := time.Now()
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, core.ClassTimeout, fmt.Errorf("upstream call timed out: %w", core.ErrUpstreamTimeout)
		case errors.Is(err, context.Canceled):
			return nil, core.ClassCancelled, fmt.Errorf("upstream call cancelled: %w", core.ErrRequestCancelled)
		default:
			return nil, core.ClassNetworkError, fmt.Errorf("upstream call failed: %w", err)
		}
	}

	if wire.Stream && resp.StatusCode == http.StatusOK {
		return &WireResponse{
			StatusCode: resp.StatusCode,
			Stream:     resp.Body,
		}, core.ClassSuccess, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.ClassTimeout, fmt.Errorf("reading upstream body timed out: %w", core.ErrUpstreamTimeout)
		}
		return nil, core.ClassNetworkError, fmt.Errorf("failed to read upstream body: %w", err)
	}

	classification, tokenLimit := Classify(resp.StatusCode, body, b.Host())

	b.Logger.Debug("Upstream call completed", map[string]interface{}{
		"operation":      "provider_invoke",
		"provider":       b.ProviderID,
		"status_code":    resp.StatusCode,
		"classification": string(classification),
		"duration_ms":    time.Since(started).Milliseconds(),
	})

	result := &WireResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		TokenLimit: tokenLimit,
	}

	if classification == core.ClassSuccess {
		return result, classification, nil
	}

	err = classificationError(classification, resp.StatusCode, body, b.Host())
	return result, classification, err
}

// classificationError builds the logged error for a non-success outcome
func classificationError(c core.Classification, status int, body []byte, host string) error {
	message := ErrorMessage(body, host)
	switch c {
	case core.ClassAuthFailure:
		return fmt.Errorf("authentication rejected (status %d): %s", status, message)
	case core.ClassRateLimited:
		return fmt.Errorf("rate limited (status %d): %s", status, message)
	case core.ClassTokenLimit:
		return fmt.Errorf("%w: %s", core.ErrTokenLimitExceeded, message)
	case core.ClassServerError:
		return fmt.Errorf("upstream server error (status %d): %s", status, message)
	case core.ClassBadRequest:
		return fmt.Errorf("%w: upstream rejected request (status %d): %s", core.ErrBadRequest, status, message)
	default:
		return fmt.Errorf("upstream error (status %d): %s", status, message)
	}
}
