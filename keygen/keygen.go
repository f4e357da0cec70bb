// Package keygen derives deterministic cache keys from semantic parameters.
//
// Keys are namespaced by source and versioned so that a format change can
// never resurrect stale entries. Raw identifiers (user ids, query strings,
// filter values) never appear in a key: they pass through xxhash, a fast
// deterministic hash. This path is explicitly non-secure - it controls key
// length and avoids accidental collisions, nothing more. Do not reuse it
// where collision resistance against an adversary matters.
//
// Grammar (segments are optional but the order is fixed):
//
//	<prefix>:<version>:<source>[:user:<h>][:op:<name>][:query:<h>][:filters:<h>][:time:<bucket>]
//
// Oversized keys collapse to <prefix>:<version>:<source>:key:<h> so the
// source head survives for pattern scans.
package keygen

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	prefix = "sc"
	sep    = ":"

	// maxKeyLen bounds keys for stores with key-length limits. All variable
	// segments are fixed-width hashes, so generated keys stay well under it;
	// the overflow re-hash exists as a guard, not an expected path.
	maxKeyLen = 256

	segUser    = "user"
	segOp      = "op"
	segQuery   = "query"
	segFilters = "filters"
	segTime    = "time"
	segKey     = "key"
)

// minWindow is the floor for time-bucket width regardless of source TTL.
const minWindow = time.Minute

var ErrMalformedKey = errors.New("keygen: malformed key")

// Params are the semantic inputs to Generate. Zero-valued fields are omitted
// from the key.
type Params struct {
	Source  string
	UserID  string
	Query   string
	Filters map[string]string

	// Op is an operation or function name carried in plaintext (sanitized)
	// so that operation-scoped invalidation can match it inside stored keys.
	// It must not carry user data.
	Op string

	// Timestamp, when set, is bucketed into a coarse window derived from the
	// source TTL so keys for volatile sources roll over on their own.
	Timestamp time.Time
}

// Key is the parseable shape of a generated key. Hash segments are returned
// verbatim; the raw values they were derived from are not recoverable.
type Key struct {
	Version     string
	Source      string
	UserHash    string
	Op          string
	QueryHash   string
	FiltersHash string
	KeyHash     string // set only for overflow-collapsed keys

	Window    time.Time
	HasWindow bool
}

// Generator derives keys for one key-format version. TTLOf supplies the
// per-source TTL used for time-window bucketing; a nil func means every
// window is the minimum width.
type Generator struct {
	version string
	ttlOf   func(source string) time.Duration
}

func New(version string, ttlOf func(source string) time.Duration) *Generator {
	if version == "" {
		version = "v1"
	}
	return &Generator{version: version, ttlOf: ttlOf}
}

// Generate builds a deterministic key for p. Identical params always produce
// identical keys; filter map construction order does not matter.
func (g *Generator) Generate(p Params) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(sep)
	b.WriteString(g.version)
	b.WriteString(sep)
	b.WriteString(p.Source)

	if p.UserID != "" {
		writeSeg(&b, segUser, hash(p.UserID))
	}
	// Sanitize first: an op with no representable characters is omitted
	// entirely, never written as an empty segment.
	if op := SanitizeOp(p.Op); op != "" {
		writeSeg(&b, segOp, op)
	}
	if p.Query != "" {
		writeSeg(&b, segQuery, hash(p.Query))
	}
	if len(p.Filters) > 0 {
		writeSeg(&b, segFilters, hashFilters(p.Filters))
	}
	if !p.Timestamp.IsZero() {
		writeSeg(&b, segTime, strconv.FormatInt(g.bucket(p.Source, p.Timestamp), 10))
	}

	key := b.String()
	if len(key) > maxKeyLen {
		// Keep the source head so source-wide patterns still over-match.
		return prefix + sep + g.version + sep + p.Source + sep + segKey + sep + hash(key)
	}
	return key
}

// Pattern returns a wildcard prefix for bulk invalidation. With an empty
// userID it covers the whole source. Patterns over-match by construction:
// they are literal prefixes of every key Generate can emit for the same
// source (and user), including the minimal key with no trailing segments,
// so no separator follows the last literal. The user hash is fixed-width,
// so the user form can never extend into a different user's hash.
func (g *Generator) Pattern(source, userID string) string {
	base := prefix + sep + g.version + sep + source
	if userID == "" {
		return base + "*"
	}
	return base + sep + segUser + sep + hash(userID) + "*"
}

// Window returns the bucket width used for source. Exported so callers can
// reason about natural refresh cadence.
func (g *Generator) Window(source string) time.Duration {
	var ttl time.Duration
	if g.ttlOf != nil {
		ttl = g.ttlOf(source)
	}
	w := ttl / 4
	if w < minWindow {
		w = minWindow
	}
	return w
}

func (g *Generator) bucket(source string, ts time.Time) int64 {
	w := int64(g.Window(source) / time.Second)
	u := ts.Unix()
	return u - u%w
}

// Validate reports whether key conforms to the grammar this generator emits.
func (g *Generator) Validate(key string) bool {
	_, err := g.Parse(key)
	return err == nil
}

// Parse decomposes a generated key. It agrees with Generate: any key built
// by this generator parses back to its non-hashed fields exactly.
func (g *Generator) Parse(key string) (Key, error) {
	parts := strings.Split(key, sep)
	if len(parts) < 3 || parts[0] != prefix || parts[1] == "" || parts[2] == "" {
		return Key{}, ErrMalformedKey
	}
	out := Key{Version: parts[1], Source: parts[2]}

	rest := parts[3:]
	if len(rest)%2 != 0 {
		return Key{}, ErrMalformedKey
	}
	// Segments must appear in generation order, each at most once.
	order := map[string]int{segUser: 0, segOp: 1, segQuery: 2, segFilters: 3, segTime: 4, segKey: 5}
	prev := -1
	for i := 0; i < len(rest); i += 2 {
		tag, val := rest[i], rest[i+1]
		rank, ok := order[tag]
		if !ok || rank <= prev || val == "" {
			return Key{}, ErrMalformedKey
		}
		prev = rank
		switch tag {
		case segUser:
			out.UserHash = val
		case segOp:
			out.Op = val
		case segQuery:
			out.QueryHash = val
		case segFilters:
			out.FiltersHash = val
		case segTime:
			sec, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Key{}, fmt.Errorf("%w: bad time bucket %q", ErrMalformedKey, val)
			}
			out.Window = time.Unix(sec, 0).UTC()
			out.HasWindow = true
		case segKey:
			if len(rest) != 2 {
				return Key{}, ErrMalformedKey
			}
			out.KeyHash = val
		}
	}
	return out, nil
}

// SanitizeOp lowercases s and strips everything outside [a-z0-9_-]. Op names
// are code identifiers; anything else does not belong in a plaintext segment.
func SanitizeOp(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func writeSeg(b *strings.Builder, tag, val string) {
	b.WriteString(sep)
	b.WriteString(tag)
	b.WriteString(sep)
	b.WriteString(val)
}

// hash is the fast, non-secure, deterministic path used for every hashed
// segment. Fixed 16-hex-char output keeps key length bounded.
func hash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

func hashFilters(f map[string]string) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(f[k])
		_, _ = d.WriteString(";")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
