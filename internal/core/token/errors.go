package token

import (
	"errors"
	"fmt"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// Sentinel failure modes for magic-link verification (§4.B, §4.I).
var (
	ErrMalformedToken     = errors.New("malformed token")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

func wrapAuth(cause error) error {
	return fmt.Errorf("%w: %w", types.ErrAuth, cause)
}

func wrapExpired(intentID string) error {
	return fmt.Errorf("%w: token for intent %s has expired", types.ErrExpired, intentID)
}
