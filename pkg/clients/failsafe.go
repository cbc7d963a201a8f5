package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func convertState(state circuitbreaker.State) CircuitBreakerState {
	switch state {
	case circuitbreaker.HalfOpenState:
		return StateHalfOpen
	case circuitbreaker.OpenState:
		return StateOpen
	default:
		return StateClosed
	}
}

// DefaultShouldRetry determines if an HTTP request should be retried.
// Retries on network errors, server errors (5xx), and rate limits (429).
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// HTTPExecutorConfig configures the HTTP executor
type HTTPExecutorConfig struct {
	// Name identifies the executor in logs
	Name string

	// Retry settings
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// AttemptTimeout bounds each attempt; zero disables it
	AttemptTimeout time.Duration

	// Circuit breaker; zero FailureThreshold disables it
	FailureThreshold uint
	FailureWindow    uint
	OpenDelay        time.Duration

	// ShouldRetry determines if a response should trigger a retry
	ShouldRetry func(resp *http.Response, err error) bool

	Logger        logging.Logger
	OnStateChange func(name string, from, to CircuitBreakerState)
}

// DefaultHTTPExecutorConfig returns sensible defaults
func DefaultHTTPExecutorConfig(name string) HTTPExecutorConfig {
	return HTTPExecutorConfig{
		Name:             name,
		MaxRetries:       2,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		AttemptTimeout:   10 * time.Second,
		FailureThreshold: 5,
		FailureWindow:    10,
		OpenDelay:        15 * time.Second,
		ShouldRetry:      DefaultShouldRetry,
	}
}

func normalizeHTTPExecutorConfig(cfg HTTPExecutorConfig) HTTPExecutorConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	if cfg.FailureWindow < cfg.FailureThreshold {
		cfg.FailureWindow = cfg.FailureThreshold
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 15 * time.Second
	}
	return cfg
}

// NewHTTPRetryPolicy creates a retry policy for HTTP requests
//
//nolint:bodyclose // false positive: [*http.Response] is a generic type parameter, not an actual response
func NewHTTPRetryPolicy(cfg HTTPExecutorConfig) retrypolicy.RetryPolicy[*http.Response] {
	cfg = normalizeHTTPExecutorConfig(cfg)
	return retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool {
			return cfg.ShouldRetry(resp, err)
		}).
		ReturnLastFailure().
		Build()
}

// HTTPExecutor runs requests through retry, an optional circuit breaker and
// an optional per-attempt timeout.
type HTTPExecutor struct {
	name     string
	executor failsafe.Executor[*http.Response]
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
}

// NewHTTPExecutor creates a failsafe executor for HTTP requests
//
//nolint:bodyclose // false positive: [*http.Response] is a generic type parameter, not an actual response
func NewHTTPExecutor(cfg HTTPExecutorConfig) *HTTPExecutor {
	cfg = normalizeHTTPExecutorConfig(cfg)
	policies := []failsafe.Policy[*http.Response]{NewHTTPRetryPolicy(cfg)}

	ex := &HTTPExecutor{name: cfg.Name}
	if cfg.FailureThreshold > 0 {
		builder := circuitbreaker.NewBuilder[*http.Response]().
			WithFailureThresholdRatio(cfg.FailureThreshold, cfg.FailureWindow).
			WithDelay(cfg.OpenDelay).
			WithSuccessThreshold(1).
			HandleIf(func(resp *http.Response, err error) bool {
				// Count as failure if error or 5xx status
				if err != nil {
					return true
				}
				return resp != nil && resp.StatusCode >= 500
			})
		if cfg.Logger != nil || cfg.OnStateChange != nil {
			builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
				from, to := convertState(event.OldState), convertState(event.NewState)
				if cfg.Logger != nil {
					cfg.Logger.WithFields(logging.Fields{
						"circuit_breaker": cfg.Name,
						"from_state":      from.String(),
						"to_state":        to.String(),
					}).Warn("circuit breaker state change")
				}
				if cfg.OnStateChange != nil {
					cfg.OnStateChange(cfg.Name, from, to)
				}
			})
		}
		ex.breaker = builder.Build()
		policies = append(policies, ex.breaker)
	}
	if cfg.AttemptTimeout > 0 {
		policies = append(policies, timeout.New[*http.Response](cfg.AttemptTimeout))
	}

	ex.executor = failsafe.With[*http.Response](policies...)
	return ex
}

// Do runs fn through the executor. fn must build a fresh request per attempt.
func (e *HTTPExecutor) Do(ctx context.Context, fn func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	return e.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return fn(exec.Context())
	})
}

// State reports the circuit breaker state; StateClosed when none is configured
func (e *HTTPExecutor) State() CircuitBreakerState {
	if e.breaker == nil {
		return StateClosed
	}
	return convertState(e.breaker.State())
}

// Name returns the executor name
func (e *HTTPExecutor) Name() string {
	return e.name
}
