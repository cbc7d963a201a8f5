package clients

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go"
)

//nolint:bodyclose // test responses have no body
func TestNewHTTPRetryPolicy_NormalizesConfigToBoundRetries(t *testing.T) {
	cfg := HTTPExecutorConfig{
		MaxRetries: -3,
		BaseDelay:  0,
		MaxDelay:   0,
	}
	policy := NewHTTPRetryPolicy(cfg)

	var attempts int32
	_, err := failsafe.With(policy).Get(func() (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("network partition")
	})
	if err == nil {
		t.Fatal("expected request to fail")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected bounded single attempt with negative retries, got %d", got)
	}
}

//nolint:bodyclose // test responses have no body
func TestHTTPExecutor_RetriesUpToConfiguredLimit(t *testing.T) {
	cfg := HTTPExecutorConfig{
		Name:       "test",
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		ShouldRetry: func(_ *http.Response, err error) bool {
			return err != nil
		},
	}
	ex := NewHTTPExecutor(cfg)

	var attempts int32
	resp, err := ex.Do(context.Background(), func(context.Context) (*http.Response, error) {
		count := atomic.AddInt32(&attempts, 1)
		if count < 3 {
			return nil, errors.New("dns lag")
		}
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected exactly 3 attempts (1 + 2 retries), got %d", got)
	}
}

//nolint:bodyclose // test responses have no body
func TestHTTPExecutor_ReturnsLastErrorWhenExhausted(t *testing.T) {
	errRefused := errors.New("connection refused")
	ex := NewHTTPExecutor(HTTPExecutorConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	_, err := ex.Do(context.Background(), func(context.Context) (*http.Response, error) {
		return nil, errRefused
	})
	if !errors.Is(err, errRefused) {
		t.Fatalf("expected last failure to be returned, got %v", err)
	}
}

//nolint:bodyclose // test responses have no body
func TestHTTPExecutor_BreakerOpens(t *testing.T) {
	var transitions []CircuitBreakerState
	ex := NewHTTPExecutor(HTTPExecutorConfig{
		MaxRetries:       0,
		FailureThreshold: 2,
		FailureWindow:    2,
		OpenDelay:        time.Minute,
		OnStateChange: func(_ string, _, to CircuitBreakerState) {
			transitions = append(transitions, to)
		},
	})

	for i := 0; i < 2; i++ {
		_, _ = ex.Do(context.Background(), func(context.Context) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusBadGateway}, nil
		})
	}
	if ex.State() != StateOpen {
		t.Fatalf("expected open breaker, got %s", ex.State())
	}
	if len(transitions) == 0 || transitions[len(transitions)-1] != StateOpen {
		t.Fatalf("expected transition to open, got %v", transitions)
	}

	var called bool
	_, err := ex.Do(context.Background(), func(context.Context) (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	if err == nil || called {
		t.Fatalf("expected open breaker to reject call (called=%v err=%v)", called, err)
	}
}

func TestDefaultShouldRetry(t *testing.T) {
	if !DefaultShouldRetry(nil, errors.New("x")) {
		t.Fatal("expected retry on error")
	}
	if !DefaultShouldRetry(&http.Response{StatusCode: http.StatusServiceUnavailable}, nil) {
		t.Fatal("expected retry on 503")
	}
	if DefaultShouldRetry(&http.Response{StatusCode: http.StatusUnauthorized}, nil) {
		t.Fatal("expected no retry on 401")
	}
}

func TestTLSConfig(t *testing.T) {
	if !TLSConfig(false).InsecureSkipVerify {
		t.Fatal("expected verification disabled")
	}
	if TLSConfig(true).InsecureSkipVerify {
		t.Fatal("expected verification enabled")
	}
	if DefaultTransport(nil).TLSClientConfig != nil {
		t.Fatal("expected nil tls config to pass through")
	}
}
