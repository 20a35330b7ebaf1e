package gateway

import (
	"errors"
	"fmt"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// ErrTokenNotFound marks a structurally valid, correctly signed token
// whose row is missing from storage — per §4.I, "signature valid but no
// row: attack or rotated secret".
var ErrTokenNotFound = errors.New("token not found")

func wrapValidation(op, reason string) error {
	return fmt.Errorf("%w: %s: %s", types.ErrValidation, op, reason)
}

func wrapInvalidState(op, reason string) error {
	return fmt.Errorf("%w: %s: %s", types.ErrInvalidState, op, reason)
}
