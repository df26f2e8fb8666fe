package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Codes are 6-digit decimal strings drawn uniformly from [100000, 999999].
// The window of 900000 values is what the expiry and single-use rules are
// sized against; predictability here is a security defect, so the source must
// stay crypto/rand.
const (
	codeMin  = 100000
	codeSpan = 900000
)

// New returns a one-time code, uniformly distributed over its 900000
// possibilities. Collisions between challenges are fine — codes are scoped by
// email, purpose and consumption state.
func New() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
