package scanner

import (
	"regexp"
	"strings"
)

// Quote-currency and contract-kind suffixes stripped from native spellings,
// with optional separators ("-USD-PERP", "_USDT", "USDTM").
var quoteSuffixRe = regexp.MustCompile(`(?i)(?:[_\-/\s]?(?:USDTM|USDT|USDC|BUSD|TUSD|USD|PERPETUAL|PERPS|PERP|SWAP))+$`)

// Magnitude prefixes/suffixes used by meme-coin contracts quoted per 1000
// units ("1000PEPE", "SHIB1000", "1000000MOG").
var (
	magnitudePrefixRe = regexp.MustCompile(`^1(?:000)+`)
	magnitudeSuffixRe = regexp.MustCompile(`1(?:000)+$`)
)

// CanonicalSymbol maps an exchange-native contract spelling to the canonical
// cross-exchange base symbol: "1000PEPEUSDT" -> "PEPE",
// "BTC-USD-PERP" -> "BTC", "XBTUSDTM" -> "BTC". The native spelling is kept
// separately on the ticker for follow-up API calls.
func CanonicalSymbol(native string) string {
	s := strings.ToUpper(strings.TrimSpace(native))
	if s == "" {
		return s
	}

	s = quoteSuffixRe.ReplaceAllString(s, "")

	// After suffix stripping a separated spelling keeps only its base part.
	for _, sep := range []string{"/", "-", "_", " "} {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
			break
		}
	}

	if stripped := magnitudePrefixRe.ReplaceAllString(s, ""); stripped != "" {
		s = stripped
	}
	if stripped := magnitudeSuffixRe.ReplaceAllString(s, ""); stripped != "" {
		s = stripped
	}

	// Kraken-style XBT alias.
	if strings.HasPrefix(s, "XBT") {
		s = "BTC" + s[3:]
	}

	return s
}
