package crypto

import (
	"errors"
	"fmt"
	"regexp"
)

// Handles are lowercase alphanumeric with interior hyphens/underscores,
// 3 to 32 characters, and never start or end with punctuation.
var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,30}[a-z0-9]$`)

// ErrInvalidHandle is returned for a handle that does not satisfy the
// naming rules.
var ErrInvalidHandle = errors.New("invalid handle")

// ValidateHandle checks that handle is a well-formed agentpost handle.
func ValidateHandle(handle string) error {
	if !handlePattern.MatchString(handle) {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return nil
}
