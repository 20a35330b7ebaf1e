// Package token implements the magic-link token codec, spec §4.B:
// base64url(JSON payload) || "." || base64url(HMAC-SHA256(secret, payload)).
//
// Grounded on the reference node's sentinel-errors-plus-context pattern
// for failure reporting and its use of google/uuid for short random ids.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	tokencfg "github.com/Chigala/bitcoin-pay/internal/config/token"
	clockiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/clock"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// Codec issues and verifies magic-link tokens against one HMAC secret.
type Codec struct {
	secret []byte
	clock  clockiface.Clock
}

// New builds a Codec. secret should be at least 32 bytes (§4.B).
func New(cfg tokencfg.Config, clk clockiface.Clock) *Codec {
	return &Codec{secret: cfg.Secret, clock: clk}
}

// nonceLength matches §4.B: "a 21-char random identifier".
const nonceLength = 21

func newNonce() string {
	// uuid.NewString() is 36 chars including hyphens; strip hyphens and
	// take the leading nonceLength runes for a compact, collision-safe
	// identifier.
	id := uuid.NewString()
	compact := make([]byte, 0, len(id))
	for i := 0; i < len(id) && len(compact) < nonceLength; i++ {
		if id[i] != '-' {
			compact = append(compact, id[i])
		}
	}
	return string(compact)
}

// Issue produces a signed token for intentID, valid for ttlSeconds from
// now.
func (c *Codec) Issue(intentID string, ttlSeconds int64) (string, error) {
	now := c.clock.Now().Unix()
	payload := types.TokenPayload{
		IntentID: intentID,
		IssuedAt: now,
		ExpireAt: now + ttlSeconds,
		Nonce:    newNonce(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)

	sig := c.sign(payloadB64)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return payloadB64 + "." + sigB64, nil
}

func (c *Codec) sign(payloadB64 string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payloadB64))
	return mac.Sum(nil)
}

// Verify splits token on the final ".", recomputes the HMAC, compares in
// constant time, and rejects if the signature is absent, mismatched, or
// already past exp. It does NOT consult storage — callers combine this
// with the storage-backed consumed/row-not-found checks in
// internal/core/gateway (§4.I redeemToken).
func (c *Codec) Verify(token string) (types.TokenPayload, error) {
	idx := strings.LastIndexByte(token, '.')
	if idx < 0 {
		return types.TokenPayload{}, wrapAuth(ErrMalformedToken)
	}
	payloadB64, sigB64 := token[:idx], token[idx+1:]

	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return types.TokenPayload{}, wrapAuth(ErrMalformedToken)
	}
	wantSig := c.sign(payloadB64)
	if !hmac.Equal(gotSig, wantSig) {
		return types.TokenPayload{}, wrapAuth(ErrSignatureMismatch)
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return types.TokenPayload{}, wrapAuth(ErrMalformedToken)
	}
	var payload types.TokenPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return types.TokenPayload{}, wrapAuth(ErrMalformedToken)
	}

	if c.clock.Now().Unix() >= payload.ExpireAt {
		return types.TokenPayload{}, wrapExpired(payload.IntentID)
	}

	return payload, nil
}
