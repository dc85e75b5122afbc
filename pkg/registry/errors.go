// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a package or artifact does not
	// exist in the registry.
	ErrNotFound = errors.New("package not found")

	// ErrUnauthorized is returned when the registry rejects the
	// request's credentials.
	ErrUnauthorized = errors.New("registry authorization failed")

	// ErrTimeout is returned when a registry request times out.
	ErrTimeout = errors.New("registry request timed out")

	// ErrServer is returned for server-side failures, including
	// responses the client cannot parse.
	ErrServer = errors.New("registry server error")
)

// TransportError describes a failed registry operation with enough
// context to report and classify it. Unwrap exposes the sentinel (or
// underlying cause) so callers can match with errors.Is.
type TransportError struct {
	// Op is the operation that failed: "metadata", "tarball" or
	// "signature".
	Op string
	// Target is the package ("name" or "name@version") the operation
	// was addressing.
	Target string
	// Status is the HTTP status code when one was received, 0 otherwise.
	Status int
	// Err classifies the failure.
	Err error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry %s %s: HTTP %d: %v", e.Op, e.Target, e.Status, e.Err)
	}
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether err represents a transient failure that a
// retry might resolve. Only timeouts and server-side errors qualify;
// missing packages and rejected credentials never do.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrServer)
}
