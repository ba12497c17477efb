package domain

import "strings"

// UnknownToken is the placeholder used when a trade record carries no token
// metadata for one side of a pair.
const UnknownToken = "Unknown"

// PairKey builds the canonical trading-pair key BASE/QUOTE. Symbols are
// upper-cased; no other normalization is applied. Identity is exact string
// match on the result.
func PairKey(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}

// SplitPairKey returns the base and quote symbols of a canonical pair key.
// The second return value is false when the key is not in BASE/QUOTE form.
func SplitPairKey(key string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(key, "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}

// TokenMeta is the merged token metadata for one side of a pair.
type TokenMeta struct {
	Symbol  string
	Name    string
	Address string
}
