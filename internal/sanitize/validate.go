package sanitize

import (
	"errors"
	"fmt"
	"unicode"
)

// MaxIDLength bounds ids accepted from requests.
const MaxIDLength = 128

// ErrInvalidID is returned for ids that cannot name a task.
var ErrInvalidID = errors.New("invalid id")

// ValidateID rejects empty or oversized ids and ids containing whitespace,
// control characters or path separators.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidID, fieldName)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidID, fieldName, MaxIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' || r == '\\' {
			return fmt.Errorf("%w: %s contains %q", ErrInvalidID, fieldName, r)
		}
	}
	return nil
}
