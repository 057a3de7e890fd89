// Package imagegen calls the external image generation service that renders
// design previews.
package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/imrishuroy/storefront-ledger/internal/metrics"
)

// ErrUnavailable is returned while the circuit is open or half-open and saturated.
var ErrUnavailable = errors.New("image service unavailable")

type generateRequest struct {
	Prompt      string `json:"prompt"`
	ProductType string `json:"product_type"`
}

type generateResponse struct {
	ImageURL string `json:"image_url"`
}

// Client wraps a resty client in a circuit breaker.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
}

// New returns a Client for baseURL. Each call is bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(timeout).
			SetRetryCount(0), // the breaker decides when to stop calling
		breaker: newBreaker("imagegen"),
		baseURL: baseURL,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(cbName string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(cbName).Set(stateValue(to))
			log.WithFields(log.Fields{
				"circuit": cbName,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	}
	return 0
}

// Generate renders prompt for a product type and returns the image URL.
func (c *Client) Generate(ctx context.Context, prompt, productType string) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(generateRequest{Prompt: prompt, ProductType: productType}).
			Post(c.baseURL + "/v1/images")
		if err != nil {
			return nil, fmt.Errorf("HTTP error: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("image service returned status %d: %s", resp.StatusCode(), resp.String())
		}
		var body generateResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if body.ImageURL == "" {
			return nil, errors.New("image service returned no image_url")
		}
		return body.ImageURL, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state ("closed", "open", "half-open").
func (c *Client) State() string {
	return c.breaker.State().String()
}
