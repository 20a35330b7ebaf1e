package httpapi

import (
	"errors"
	"fmt"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

var errMissingIntentID = errors.New("intentId query parameter is required")

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// wrapBindErr classifies a gin JSON-bind failure as §7's ErrValidation so
// it reaches the same 400 path as a semantically invalid payload.
func wrapBindErr(err error) error {
	return fmt.Errorf("%w: %s", types.ErrValidation, err.Error())
}
