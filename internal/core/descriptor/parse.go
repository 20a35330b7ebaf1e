package descriptor

import (
	"fmt"
	"regexp"
	"strings"
)

// ScriptType is the output policy named by a descriptor's function
// wrapper (§4.A: tr/wpkh/sh/pkh).
type ScriptType string

const (
	ScriptTaproot  ScriptType = "tr"
	ScriptP2WPKH   ScriptType = "wpkh"
	ScriptP2SH     ScriptType = "sh"
	ScriptP2PKH    ScriptType = "pkh"
)

// parsed is the decomposed form of a descriptor string
// "<type>([<origin>]<xpub>/<path>)".
type parsed struct {
	scriptType ScriptType
	origin     string // optional "[fingerprint/path']" prefix, kept verbatim
	xpub       string
	// chain is the external/internal chain component before "/*", 0 by
	// default per §4.A ("the external chain is index 0 by default").
	chain uint32
}

// descriptorPattern matches "<type>([<origin>]<xpub>/<chain>/*)" where
// origin is an optional "[...]" bracketed prefix.
var descriptorPattern = regexp.MustCompile(`^(tr|wpkh|sh|pkh)\((\[[^\]]*\])?([A-Za-z0-9]+)/(\d+)/\*\)$`)

// parseDescriptor decomposes a descriptor string per §4.A. Only paths
// ending in "/*" are accepted, matching the spec's statement that "the
// path ends in /*".
func parseDescriptor(s string) (parsed, error) {
	s = strings.TrimSpace(s)
	m := descriptorPattern.FindStringSubmatch(s)
	if m == nil {
		return parsed{}, wrapUnsupported(s, "does not match <type>([origin]xpub/chain/*)")
	}

	scriptType := ScriptType(m[1])
	origin := strings.Trim(m[2], "[]")
	xpub := m[3]
	var chain uint32
	if _, err := fmt.Sscanf(m[4], "%d", &chain); err != nil {
		return parsed{}, wrapUnsupported(s, "invalid chain component")
	}

	if !strings.HasPrefix(xpub, "xpub") && !strings.HasPrefix(xpub, "tpub") &&
		!strings.HasPrefix(xpub, "vpub") && !strings.HasPrefix(xpub, "upub") {
		return parsed{}, wrapInvalidXpub(xpub, fmt.Errorf("missing recognized extended-public-key prefix"))
	}

	return parsed{
		scriptType: scriptType,
		origin:     origin,
		xpub:       xpub,
		chain:      chain,
	}, nil
}
