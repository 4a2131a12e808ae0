// Package route defines the (method, URI, rawRoute) triple that the rate
// limit ledger keys its buckets on.
package route

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Route pairs a concrete HTTP method+URI with the rawRoute bucket key the
// remote service's rate limiter groups it under.
type Route struct {
	Method   string
	URI      string
	RawRoute string
}

// New builds a Route from a concrete URI and an already-known rawRoute
// (the common case: an endpoint catalog constructs both from a template).
func New(method, uri, rawRoute string) Route {
	return Route{Method: method, URI: uri, RawRoute: rawRoute}
}

// NewMasked builds a Route by deriving the rawRoute from uri via Mask,
// for callers that only have a concrete URI on hand.
func NewMasked(method, uri string) Route {
	return Route{Method: method, URI: uri, RawRoute: method + " " + Mask(uri)}
}

var idSegment = regexp.MustCompile(`^\d+$`)

const maskCacheSize = 4096

// maskCache memoizes the masked template for a given concrete URI. The set of
// distinct endpoint shapes a client exercises is small and closed in
// practice; the cache is a memory safety valve for pathological callers, not
// a correctness mechanism — eviction only ever costs a cheap recompute.
var maskCache, _ = lru.New[string, string](maskCacheSize)

// Mask replaces path segments that look like numeric snowflake IDs with a
// placeholder, producing a template suitable for use as a rawRoute. Two
// concrete URIs that mask to the same template share a rate-limit bucket.
func Mask(uri string) string {
	if cached, ok := maskCache.Get(uri); ok {
		return cached
	}

	path := uri
	if idx := strings.IndexAny(uri, "?#"); idx >= 0 {
		path = uri[:idx]
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if idSegment.MatchString(seg) {
			segments[i] = "{id}"
		}
	}
	masked := strings.Join(segments, "/")

	maskCache.Add(uri, masked)
	return masked
}
