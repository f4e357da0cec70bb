// Package match implements the glob grammar shared by every backend for
// Keys/InvalidatePattern. Only '*' (any run of characters, including none)
// is special; there is no character-class or single-character wildcard and
// no separator handling, so a prefix pattern can never under-match.
package match

import "strings"

// Glob reports whether key matches pattern. '*' matches any (possibly empty)
// run of characters. Every other byte matches itself.
func Glob(pattern, key string) bool {
	// Fast paths for the two shapes key generators actually emit.
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}
	if i := strings.IndexByte(pattern, '*'); i == len(pattern)-1 {
		return strings.HasPrefix(key, pattern[:i])
	}

	parts := strings.Split(pattern, "*")
	// Anchor the first and last literal chunks, then greedily consume the rest.
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(key, last) {
		return false
	}
	key = key[:len(key)-len(last)]

	for _, p := range parts[1 : len(parts)-1] {
		if p == "" {
			continue
		}
		i := strings.Index(key, p)
		if i < 0 {
			return false
		}
		key = key[i+len(p):]
	}
	return true
}

// Prefix returns the longest literal prefix of pattern, usable for range
// scans in ordered stores.
func Prefix(pattern string) string {
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
