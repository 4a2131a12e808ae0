package pipeline

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RatelimitSnapshot is what step 6 of the response-parse stage extracts
// from a response's headers.
type RatelimitSnapshot struct {
	Remaining int // -1 if the header was absent
	Limit     int // -1 if the header was absent
	TilReset  time.Duration
	IsGlobal  bool
}

// Meaningful reports whether the snapshot carries enough information to be
// worth feeding back into the ledger — step 8 of the pipeline.
func (s RatelimitSnapshot) Meaningful() bool {
	return s.TilReset > 0 && s.Remaining != -1 && s.Limit != -1
}

// ExtractRatelimitSnapshot reads X-RateLimit-Remaining, X-RateLimit-Limit,
// X-RateLimit-Reset/Retry-After, and X-Ratelimit-Global from response
// headers. Retry-After takes precedence over X-RateLimit-Reset when both
// are present.
func ExtractRatelimitSnapshot(h http.Header) RatelimitSnapshot {
	snap := RatelimitSnapshot{
		Remaining: parseIntHeader(h, "X-RateLimit-Remaining", -1),
		Limit:     parseIntHeader(h, "X-RateLimit-Limit", -1),
		IsGlobal:  strings.EqualFold(h.Get("X-Ratelimit-Global"), "true"),
	}

	if ra := h.Get("Retry-After"); ra != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(ra), 10, 64); err == nil {
			snap.TilReset = time.Duration(ms) * time.Millisecond
		}
		return snap
	}

	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if epochMs, err := strconv.ParseInt(strings.TrimSpace(reset), 10, 64); err == nil {
			until := time.Until(time.UnixMilli(epochMs))
			if until > 0 {
				snap.TilReset = until
			}
		}
	}

	return snap
}

func parseIntHeader(h http.Header, key string, missing int) int {
	v := h.Get(key)
	if v == "" {
		return missing
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return missing
	}
	return n
}
