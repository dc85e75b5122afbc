// SPDX-License-Identifier: MPL-2.0

package install

import (
	"errors"
	"fmt"

	"pluginpm/pkg/version"
)

// ErrChecksumMismatch indicates downloaded bytes do not hash to the
// checksum the registry metadata published.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ChecksumError provides details about a download integrity failure.
// It wraps ErrChecksumMismatch so callers can use errors.Is for
// classification.
type ChecksumError struct {
	Package  string
	Version  version.Version
	Expected string
	Got      string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s@%s\nExpected: %s\nGot:      %s",
		e.Package, e.Version, e.Expected, e.Got)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }
