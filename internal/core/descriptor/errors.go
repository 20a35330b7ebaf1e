package descriptor

import (
	"errors"
	"fmt"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// Sentinel failure modes named in spec §4.A.
var (
	ErrUnsupportedDescriptor = errors.New("unsupported descriptor")
	ErrInvalidXpub           = errors.New("invalid xpub")
	ErrGapLimitExceeded      = errors.New("gap limit exceeded")
)

func wrapUnsupported(descriptor, reason string) error {
	return fmt.Errorf("%w: %w: descriptor=%q reason=%s", types.ErrFatal, ErrUnsupportedDescriptor, descriptor, reason)
}

func wrapInvalidXpub(xpub string, cause error) error {
	return fmt.Errorf("%w: %w: xpub=%q cause=%v", types.ErrFatal, ErrInvalidXpub, xpub, cause)
}

func wrapGapLimit(index uint32, lastIndex int64, gapLimit int) error {
	return fmt.Errorf("%w: %w: index=%d lastDerived=%d gapLimit=%d", types.ErrValidation, ErrGapLimitExceeded, index, lastIndex, gapLimit)
}
