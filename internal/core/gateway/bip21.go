package gateway

import (
	"fmt"
	"net/url"
)

// satsPerBTC is the fixed-point scale for BIP21's amount parameter (§6:
// "btc8 is sats/10^8 formatted with exactly eight decimal places").
const satsPerBTC = 100_000_000

// buildBIP21 renders the URI scheme from §6: "bitcoin:{address}?amount={btc8}[&label={pct}][&message={pct}]".
func buildBIP21(address string, amountSats int64, label, message string) string {
	whole := amountSats / satsPerBTC
	frac := amountSats % satsPerBTC

	uri := fmt.Sprintf("bitcoin:%s?amount=%d.%08d", address, whole, frac)
	if label != "" {
		uri += "&label=" + url.QueryEscape(label)
	}
	if message != "" {
		uri += "&message=" + url.QueryEscape(message)
	}
	return uri
}
