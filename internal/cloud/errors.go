package cloud

import (
	"errors"
	"fmt"
)

// Error taxonomy for remote calls. Callers branch with errors.Is; everything
// else coming out of the client is a transient *APIError or a plain transport
// error.
var (
	// ErrRateLimited is the remote service's signal that we call too often.
	ErrRateLimited = errors.New("cloud: rate limited")
	// ErrUnauthorized means the session is invalid and re-authentication is
	// required before further calls can succeed.
	ErrUnauthorized = errors.New("cloud: unauthorized")
)

// APIError is a non-2xx response that is neither a rate limit nor an auth
// failure. Treated as transient by the coordination core.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: %s returned status %d: %s", e.Op, e.Status, e.Body)
}

// classify converts an HTTP failure into the taxonomy. The vendor sometimes
// reports throttling with a 200-family status and a plain-text body, so the
// body is inspected too.
func classify(op string, status int, body string) error {
	if status == 429 || containsFold(body, "Too Many Requests") {
		return fmt.Errorf("%w: %s: %s", ErrRateLimited, op, body)
	}
	if status == 401 || status == 403 || containsFold(body, "token has expired") {
		return fmt.Errorf("%w: %s: %s", ErrUnauthorized, op, body)
	}
	return &APIError{Op: op, Status: status, Body: body}
}
