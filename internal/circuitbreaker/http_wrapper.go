package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/metrics"
)

// HTTPWrapper wraps an http.Client with a circuit breaker. Transport errors and
// 5xx responses count against the breaker; 4xx do not.
type HTTPWrapper struct {
	client *http.Client
	cb     *CircuitBreaker
	name   string
	logger *zap.Logger
}

// NewHTTPWrapper creates a new HTTP wrapper with circuit breaker
func NewHTTPWrapper(client *http.Client, name string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	cb := NewCircuitBreaker(name, HTTPConfig(), logger)
	return &HTTPWrapper{client: client, cb: cb, name: name, logger: logger}
}

// Do executes an HTTP request through the circuit breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err2 error
		resp, err2 = hw.client.Do(req)
		if err2 != nil {
			return err2
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	metrics.RecordCircuitBreakerRequest(hw.name, float64(hw.cb.State()), err == nil)

	// A 5xx was classified as a breaker failure but the caller still gets the
	// response to inspect.
	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// IsOpen reports whether the breaker currently rejects requests.
func (hw *HTTPWrapper) IsOpen() bool {
	return hw.cb.State() == StateOpen
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
