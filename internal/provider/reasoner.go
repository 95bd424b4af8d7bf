package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Settings are the model parameters applied to every request that does not
// set its own.
type Settings struct {
	Model       string
	Temperature float64
	MaxRetries  int
	Retry       RetryConfig
}

// RetryConfig configures exponential backoff between attempts.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the backoff used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// Reasoner is the single entry point the rest of the system uses to talk to
// a language model. Requests go through the Router with retries and a
// per-route circuit breaker.
type Reasoner struct {
	router   *Router
	settings Settings
	breakers *breakerRegistry
	logger   *zap.Logger
}

// NewReasoner wraps router with the given settings.
func NewReasoner(router *Router, settings Settings, logger *zap.Logger) *Reasoner {
	if settings.Retry.InitialInterval <= 0 {
		settings.Retry = DefaultRetryConfig()
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	return &Reasoner{
		router:   router,
		settings: settings,
		breakers: newBreakerRegistry(logger),
		logger:   logger,
	}
}

// Invoke sends a single system + user exchange on the default route and
// returns the text reply.
func (r *Reasoner) Invoke(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := r.Complete(ctx, "", &ChatRequest{
		System:   systemPrompt,
		Messages: []Message{{Role: RoleUser, Content: userText}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Complete sends req on route, retrying transient failures up to
// Settings.MaxRetries times.
func (r *Reasoner) Complete(ctx context.Context, route string, req *ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = r.settings.Model
	}
	if req.Temperature == 0 {
		req.Temperature = r.settings.Temperature
	}

	cb := r.breakers.get(route)
	var resp *ChatResponse
	attempt := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++
		out, err := cb.Execute(func() (interface{}, error) {
			return r.router.Route(ctx, route, req)
		})
		if err != nil {
			if !retryable(ctx, err) {
				return backoff.Permanent(err)
			}
			r.logger.Debug("provider call failed, retrying",
				zap.String("route", route), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		resp = out.(*ChatResponse)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.settings.Retry.InitialInterval
	policy.MaxInterval = r.settings.Retry.MaxInterval
	policy.Multiplier = r.settings.Retry.Multiplier
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.settings.MaxRetries)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("reasoning call failed after %d attempt(s): %w", attempt, err)
	}
	return resp, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrNoProvider) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return retryableStatus(aerr.StatusCode)
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return retryableStatus(oerr.StatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func newBreakerRegistry(logger *zap.Logger) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

func (b *breakerRegistry) get(route string) *gobreaker.CircuitBreaker {
	if route == "" {
		route = "default"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[route]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        route,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				zap.String("route", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	b.breakers[route] = cb
	return cb
}
