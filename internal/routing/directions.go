package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ridepool/internal/config"
	"ridepool/internal/domain"
	"ridepool/internal/observability"
)

// Providers understood by DirectionsClient.
const (
	ProviderMapbox = "mapbox"
	ProviderOSRM   = "osrm"
)

// DirectionsClient calls a Mapbox or OSRM directions endpoint.
type DirectionsClient struct {
	provider    string
	baseURL     string
	profile     string
	accessToken string
	maxRetries  int
	backoff     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewDirectionsClient builds a client from config. transport may be nil.
func NewDirectionsClient(cfg config.RoutingConfig, transport http.RoundTripper, logger *slog.Logger) *DirectionsClient {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectionsClient{
		provider:    cfg.Provider,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		profile:     cfg.Profile,
		accessToken: cfg.AccessToken,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		httpClient:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger:      logger,
	}
}

func formatCoords(coords []domain.Point) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.FormatFloat(c.Lng, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lat, 'f', 6, 64)
	}
	return strings.Join(parts, ";")
}

func (c *DirectionsClient) requestURL(coords []domain.Point) string {
	q := url.Values{}
	q.Set("steps", "true")
	q.Set("geometries", "geojson")
	q.Set("overview", "full")

	var path string
	switch c.provider {
	case ProviderOSRM:
		path = fmt.Sprintf("/route/v1/%s/%s", c.profile, formatCoords(coords))
	default:
		path = fmt.Sprintf("/directions/v5/mapbox/%s/%s", c.profile, formatCoords(coords))
		q.Set("access_token", c.accessToken)
	}
	return c.baseURL + path + "?" + q.Encode()
}

// retryableError marks failures worth another attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Directions fetches turn-by-turn directions through coords in order.
func (c *DirectionsClient) Directions(ctx context.Context, coords []domain.Point) (json.RawMessage, error) {
	if len(coords) < 2 {
		return nil, fmt.Errorf("%w: directions need at least two coordinates", domain.ErrValidation)
	}
	if c.provider != ProviderOSRM && len(coords) > config.MapboxMaxCoordinates {
		return nil, fmt.Errorf("%w: %d waypoints exceed the mapbox limit of %d", domain.ErrExternalService, len(coords), config.MapboxMaxCoordinates)
	}

	start := time.Now()
	defer func() { observability.RoutingOracleLatency.Observe(time.Since(start).Seconds()) }()

	target := c.requestURL(coords)
	backoff := c.backoff

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrExternalService, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		payload, err := c.fetch(ctx, target)
		if err == nil {
			observability.RoutingOracleRequestsTotal.WithLabelValues("ok").Inc()
			return payload, nil
		}
		lastErr = err

		var retry *retryableError
		if !errors.As(err, &retry) {
			break
		}
		c.logger.Warn("directions request failed, retrying",
			"attempt", attempt+1,
			"provider", c.provider,
			"error", err,
		)
	}

	observability.RoutingOracleRequestsTotal.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("%w: directions: %v", domain.ErrExternalService, lastErr)
}

func (c *DirectionsClient) fetch(ctx context.Context, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &retryableError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &retryableError{err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("provider returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p directionsPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !strings.EqualFold(p.Code, "Ok") || len(p.Routes) == 0 {
		return nil, fmt.Errorf("no route: code=%q message=%q", p.Code, p.Message)
	}

	return json.RawMessage(body), nil
}
