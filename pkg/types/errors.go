// Package types holds the data model shared across the payment gateway:
// entities (§3), wire payloads and the error taxonomy (§7).
package types

import "errors"

// Sentinel errors for the taxonomy in spec §7. Call sites wrap these with
// fmt.Errorf("%w: ...") so errors.Is classification survives through
// layers up to the HTTP boundary.
var (
	// ErrValidation marks malformed or out-of-range caller input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing intent, address or token row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an operation that conflicts with an entity's
	// current lifecycle state (e.g. assigning an address to an expired
	// intent).
	ErrInvalidState = errors.New("invalid state")

	// ErrAuth marks an HMAC signature mismatch on a magic-link token.
	ErrAuth = errors.New("authentication failed")

	// ErrExpired marks a token whose exp has passed.
	ErrExpired = errors.New("expired")

	// ErrConflict marks a uniqueness violation (duplicate (txid,vout),
	// a derivation-index race) or a storage serialization failure that
	// the caller should retry.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks a retryable failure: RPC timeout, indexer 5xx,
	// network error.
	ErrTransient = errors.New("transient error")

	// ErrFatal marks a non-retryable failure: RPC auth rejection,
	// malformed descriptor, unsupported script type.
	ErrFatal = errors.New("fatal error")
)
