package user

import (
	"fmt"

	"file-service/internal/apperr"
)

const (
	MinPasswordLength = 8
	// bcrypt refuses longer input, so the limit is in bytes, not characters.
	MaxPasswordBytes = 72
)

// ValidatePassword checks a new password against the length bounds bcrypt can hash.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", apperr.ErrValidation, MaxPasswordBytes)
	}
	return nil
}
