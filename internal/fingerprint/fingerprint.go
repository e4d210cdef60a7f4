// Package fingerprint derives stable cache keys from processing requests.
//
// A key is the 64-bit xxhash of the request's canonical form (normalized
// text, sorted operation identifiers, configuration rendering), encoded in
// base 36. Two requests that canonicalize to the same bytes always map to
// the same key; callers that need collision safety must additionally compare
// the canonical form itself.
package fingerprint

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Normalize collapses runs of whitespace in text to single spaces and trims
// leading/trailing whitespace. Case is preserved: "Foo  bar " and "Foo bar"
// are the same input, "foo bar" is not.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Canonical renders the canonical serialization of a request. The operation
// identifiers are sorted so their original order never influences the key.
// The config string is expected to already be a fixed-order rendering.
func Canonical(text string, operations []string, config string) string {
	ops := make([]string, len(operations))
	copy(ops, operations)
	sort.Strings(ops)

	var b strings.Builder
	b.WriteString("text=")
	b.WriteString(Normalize(text))
	b.WriteString(";ops=")
	b.WriteString(strings.Join(ops, ","))
	b.WriteString(";config=")
	b.WriteString(config)
	return b.String()
}

// DeriveKey returns the cache key for the given request parts.
func DeriveKey(text string, operations []string, config string) string {
	return Hash(Canonical(text, operations, config))
}

// Hash reduces s to a short base-36 string via xxhash64.
func Hash(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 36)
}
