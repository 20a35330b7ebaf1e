package nodeclient

import (
	"errors"
	"fmt"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// ErrTxNotFound is returned when the node reports "No such mempool or
// blockchain transaction" — the reorg trigger in §4.G.
var ErrTxNotFound = errors.New("transaction not found")

// rpcErrorCode classifies a Bitcoin Core JSON-RPC error code into the §7
// taxonomy. The small negative codes handled here are Bitcoin Core
// application errors, distinct from the -32xxx JSON-RPC protocol codes
// (see bitcoind's rpc/protocol.h); auth failures arrive as an HTTP 401
// rather than an RPC error body and are handled separately in doCall.
func rpcErrorCode(code int, message string) error {
	switch code {
	case -5: // RPC_INVALID_ADDRESS_OR_KEY - used for "No such transaction"
		return fmt.Errorf("%w: %w: %s", types.ErrFatal, ErrTxNotFound, message)
	case -8, -3, -1: // invalid parameter / type / misc
		return fmt.Errorf("%w: %s", types.ErrValidation, message)
	case -28: // RPC_IN_WARMUP
		return fmt.Errorf("%w: %s", types.ErrTransient, message)
	default:
		return fmt.Errorf("%w: rpc error %d: %s", types.ErrFatal, code, message)
	}
}

func wrapTransient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrTransient, op, err)
}

func wrapFatal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrFatal, op, err)
}
