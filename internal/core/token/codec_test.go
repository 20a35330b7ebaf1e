package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tokencfg "github.com/Chigala/bitcoin-pay/internal/config/token"
	clockimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/clock"
)

func newCodec(t *testing.T, secret string, now time.Time) (*Codec, *clockimpl.MockClock) {
	t.Helper()
	mc := clockimpl.NewMockClock(now)
	return New(tokencfg.Config{Secret: []byte(secret)}, mc), mc
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	codec, clk := newCodec(t, "super-secret-value-at-least-32-bytes!!", time.Unix(1_700_000_000, 0))

	tok, err := codec.Issue("intent-1", 3600)
	require.NoError(t, err)

	payload, err := codec.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "intent-1", payload.IntentID)

	// Still accepted just before expiry.
	clk.Advance(3599 * time.Second)
	_, err = codec.Verify(tok)
	require.NoError(t, err)

	// Rejected once now >= exp.
	clk.Advance(2 * time.Second)
	_, err = codec.Verify(tok)
	require.Error(t, err)
}

func TestVerify_SignatureIsolation(t *testing.T) {
	codecA, _ := newCodec(t, "secret-a-0123456789012345678901234567", time.Unix(1_700_000_000, 0))
	codecB, _ := newCodec(t, "secret-b-0123456789012345678901234567", time.Unix(1_700_000_000, 0))

	tok, err := codecA.Issue("intent-1", 3600)
	require.NoError(t, err)

	_, err = codecB.Verify(tok)
	require.Error(t, err)
}

func TestVerify_MalformedToken(t *testing.T) {
	codec, _ := newCodec(t, "secret-0123456789012345678901234567890", time.Unix(0, 0))

	_, err := codec.Verify("not-a-valid-token")
	require.Error(t, err)

	_, err = codec.Verify("")
	require.Error(t, err)
}

func TestIssue_NoncesDiffer(t *testing.T) {
	codec, _ := newCodec(t, "secret-0123456789012345678901234567890", time.Unix(1_700_000_000, 0))

	t1, err := codec.Issue("intent-1", 60)
	require.NoError(t, err)
	t2, err := codec.Issue("intent-1", 60)
	require.NoError(t, err)

	require.NotEqual(t, t1, t2, "two tokens for the same intent in the same second must differ by nonce")
}
