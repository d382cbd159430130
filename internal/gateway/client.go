// Package gateway holds the HTTP clients of the external collaborators:
// the messaging gateway, the settlement provider and the NLU service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/metrics"
)

// Options configures a client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient defaults to a client without its own timeout; every call
	// is bounded by Timeout through its context.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// client is the shared request path: per-call timeout, circuit breaker,
// JSON encoding and error classification.
type client struct {
	provider string
	base     string
	timeout  time.Duration
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	auth     func(*http.Request)
	log      *zap.Logger
}

func newClient(provider string, opts Options, auth func(*http.Request)) *client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.With(zap.String("component", "gateway"), zap.String("provider", provider))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider-" + provider,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A client error says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			var pe *domain.ProviderError
			if errors.As(err, &pe) && pe.Status >= 400 && pe.Status < 500 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	return &client{
		provider: provider,
		base:     opts.BaseURL,
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
		breaker:  breaker,
		auth:     auth,
		log:      log,
	}
}

// doJSON sends in as JSON and decodes the response into out when out is
// not nil.
func (c *client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%s %s: encode request: %w", c.provider, op, err)
		}
	}
	return c.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}, out)
}

func (c *client) do(ctx context.Context, op string, build func(context.Context) (*http.Request, error), out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (any, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, &domain.ProviderError{Provider: c.provider, Op: op, Err: err}
		}
		if c.auth != nil {
			c.auth(req)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &domain.ProviderError{Provider: c.provider, Op: op, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, &domain.ProviderError{
				Provider: c.provider,
				Op:       op,
				Status:   resp.StatusCode,
				Err:      fmt.Errorf("unexpected response: %s", bytes.TrimSpace(snippet)),
			}
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, &domain.ProviderError{Provider: c.provider, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
			}
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &domain.ProviderError{Provider: c.provider, Op: op, Err: err}
	}
	metrics.ProviderCalls.WithLabelValues(c.provider, op, metrics.Result(err)).Inc()
	if err != nil {
		c.log.Debug("provider call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// retryable reports whether err may succeed on a later attempt.
func retryable(err error) bool {
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		return false
	}
	return pe.Status == 0 || pe.Status == http.StatusTooManyRequests || pe.Status >= 500
}
