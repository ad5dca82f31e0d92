package circuitbreaker

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Doer sends HTTP requests
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPWrapper guards an HTTP client with one breaker per target key, so a
// proxy that keeps failing for one target still serves the others.
type HTTPWrapper struct {
	client Doer
	group  *Group
	logger *zap.Logger
}

// NewHTTPWrapper wraps client. Breakers are named "<name>:<key>". A nil
// client gets a 30s timeout.
func NewHTTPWrapper(client Doer, name, service string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWrapper{
		client: client,
		group:  NewGroup(name, service, settings, ClassifyHTTP, logger),
		logger: logger,
	}
}

// Do sends req through key's breaker. Non-2xx responses are returned to
// the caller with a nil error after being classified.
func (hw *HTTPWrapper) Do(key string, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.group.Run(req.Context(), key, func() error {
		var doErr error
		resp, doErr = hw.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Code: resp.StatusCode}
		}
		return nil
	})

	var se *StatusError
	if errors.As(err, &se) {
		return resp, nil
	}
	return resp, err
}

// State returns key's breaker state
func (hw *HTTPWrapper) State(key string) State {
	return hw.group.State(key)
}

// OpenKeys lists the keys whose breaker is open
func (hw *HTTPWrapper) OpenKeys() []string {
	return hw.group.Open()
}

// StatusError carries a non-2xx response status through the breaker
type StatusError struct{ Code int }

func (e *StatusError) Error() string { return http.StatusText(e.Code) }

// ClassifyHTTP counts 5xx responses and transport errors as failures.
// 403, 429 and 451 mean the target refused the proxy, which says nothing
// about the proxy itself. Other 4xx responses are answers.
func ClassifyHTTP(err error) Verdict {
	var se *StatusError
	if !errors.As(err, &se) {
		return DefaultClassifier(err)
	}
	switch {
	case se.Code >= 500:
		return VerdictFailure
	case se.Code == http.StatusForbidden,
		se.Code == http.StatusTooManyRequests,
		se.Code == http.StatusUnavailableForLegalReasons:
		return VerdictNeutral
	default:
		return VerdictSuccess
	}
}
