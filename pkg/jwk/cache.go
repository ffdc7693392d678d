// Package jwk maintains the JSON Web Key cache used to verify third-party
// identity tokens, and the verifier that consumes it.
//
// The cache holds one immutable snapshot of the provider's signing keys in
// an atomic pointer. Readers ([Cache.Lookup]) never block: they either get
// a key, learn the key is absent from a fresh snapshot, or receive a
// [NotReadyError] telling them when to retry. A single refresher task
// ([Refresher.Run]) is the only writer; it fetches the provider's JWK
// document, honors the response's Cache-Control max-age, and swaps whole
// snapshots in.
//
// Snapshot freshness is tracked on the monotonic clock so wall-clock
// adjustments cannot prematurely expire or resurrect a snapshot.
package jwk

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clock"
)

// RetryAfter is the delay a caller should wait before retrying a lookup
// that hit an expired snapshot. It is short because the refresher is
// normally only milliseconds away from installing fresh keys.
const RetryAfter = 50 * time.Millisecond

// FallbackMaxAge is the snapshot lifetime used when the provider's
// response carries no parseable Cache-Control max-age directive.
const FallbackMaxAge = 60 * time.Second

// NotReadyError is returned by [Cache.Lookup] when the current snapshot
// has expired and fresh keys are not yet installed. RetryAt is the
// monotonic instant after which a retry is worthwhile.
type NotReadyError struct {
	RetryAt time.Duration
}

// Error implements the error interface.
func (e *NotReadyError) Error() string {
	return "jwk: key snapshot expired, refresh pending"
}

// snapshot is one immutable generation of the provider's signing keys.
// A snapshot is never mutated after installation; the refresher replaces
// the whole value.
type snapshot struct {
	keys      map[string]*rsa.PublicKey
	expiresAt time.Duration // monotonic
}

// Cache holds the current key snapshot. The zero value is not usable;
// construct with [NewCache].
//
// Cache is safe for concurrent use: any number of goroutines may call
// Lookup while the refresher installs new snapshots.
type Cache struct {
	current atomic.Pointer[snapshot]
	clock   clock.Clock
}

// NewCache returns a Cache whose initial snapshot is empty and already
// expired, so lookups report NotReady until the first refresh lands.
func NewCache(clk clock.Clock) *Cache {
	c := &Cache{clock: clk}
	c.current.Store(&snapshot{keys: map[string]*rsa.PublicKey{}})
	return c
}

// Lookup resolves a key id against the current snapshot.
//
// The three outcomes are:
//   - (key, true, nil): the snapshot is fresh and contains the key
//   - (nil, false, nil): the snapshot is fresh but the key is absent;
//     retrying is pointless until the provider rotates keys
//   - (nil, false, *NotReadyError): the snapshot has expired; retry after
//     the error's RetryAt instant
func (c *Cache) Lookup(kid string) (*rsa.PublicKey, bool, error) {
	snap := c.current.Load()
	now := c.clock.Mono()

	if now >= snap.expiresAt {
		return nil, false, &NotReadyError{RetryAt: now + RetryAfter}
	}
	key, ok := snap.keys[kid]
	if !ok {
		return nil, false, nil
	}
	return key, true, nil
}

// Install atomically replaces the current snapshot with the given keys,
// valid for maxAge from now. The keys map is owned by the cache after the
// call; callers must not modify it.
func (c *Cache) Install(keys map[string]*rsa.PublicKey, maxAge time.Duration) {
	c.current.Store(&snapshot{
		keys:      keys,
		expiresAt: c.clock.Mono() + maxAge,
	})
}

// ExpiresAt returns the monotonic expiry of the current snapshot. The
// refresher sleeps until this instant before fetching again.
func (c *Cache) ExpiresAt() time.Duration {
	return c.current.Load().expiresAt
}

// ---- JWK document parsing ----

// document is the provider's JWK set wire format.
type document struct {
	Keys []keyJSON `json:"keys"`
}

// keyJSON is a single RSA key entry. The modulus and exponent are
// base64url-encoded big-endian integers per RFC 7518 §6.3.
type keyJSON struct {
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// parseDocument decodes a JWK set and returns the usable RSA keys keyed
// by key id. Entries with an algorithm other than RS256 or with
// undecodable parameters are skipped; an empty result is not an error
// (the provider may legitimately serve keys we cannot use yet).
func parseDocument(data []byte) (map[string]*rsa.PublicKey, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jwk: failed to decode key document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Alg != "" && k.Alg != "RS256" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// parseRSAPublicKey builds an RSA public key from base64url-encoded
// modulus and exponent strings.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("jwk: invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("jwk: invalid exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("jwk: empty modulus or exponent")
	}

	exponent := new(big.Int).SetBytes(eBytes)
	if !exponent.IsInt64() || exponent.Int64() > int64(1<<31-1) {
		return nil, fmt.Errorf("jwk: exponent out of range")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(exponent.Int64()),
	}, nil
}
