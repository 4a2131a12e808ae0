package reqres

import (
	"time"

	"github.com/tjfontaine/discordgw/internal/route"
)

// Kind discriminates the four Answer variants. Go has no sum types; this is
// the enum-plus-fields pattern used throughout the pack's rate-limiter
// reference code (see e.g. the Decision/RateLimitResult shape).
type Kind int

const (
	// KindResponse is the only successful variant.
	KindResponse Kind = iota
	// KindRatelimited means the server replied 429.
	KindRatelimited
	// KindError is a transport failure or non-2xx, non-429 status.
	KindError
	// KindDropped means the ledger refused to admit the request in time.
	KindDropped
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "Response"
	case KindRatelimited:
		return "Ratelimited"
	case KindError:
		return "Error"
	case KindDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// Answer is the tagged union of outcomes for a single Request. Every
// variant carries Route, RawRoute (via Route), and Ctx.
type Answer[Data, Ctx any] struct {
	Kind  Kind
	Route route.Route
	Ctx   Ctx

	// KindResponse fields.
	Data              Data
	TilReset          time.Duration
	RemainingRequests int
	URIRequestLimit   int

	// KindRatelimited fields (TilReset and URIRequestLimit shared above).
	IsGlobal bool

	// KindError field.
	Cause error
}

// Response constructs a successful answer.
func Response[Data, Ctx any](r route.Route, ctx Ctx, data Data, tilReset time.Duration, remaining, limit int) Answer[Data, Ctx] {
	return Answer[Data, Ctx]{
		Kind:              KindResponse,
		Route:             r,
		Ctx:               ctx,
		Data:              data,
		TilReset:          tilReset,
		RemainingRequests: remaining,
		URIRequestLimit:   limit,
	}
}

// Ratelimited constructs a 429 answer.
func Ratelimited[Data, Ctx any](r route.Route, ctx Ctx, isGlobal bool, tilReset time.Duration, limit int) Answer[Data, Ctx] {
	return Answer[Data, Ctx]{
		Kind:            KindRatelimited,
		Route:           r,
		Ctx:             ctx,
		IsGlobal:        isGlobal,
		TilReset:        tilReset,
		URIRequestLimit: limit,
	}
}

// Errored constructs a transport/HTTP/decode failure answer.
func Errored[Data, Ctx any](r route.Route, ctx Ctx, cause error) Answer[Data, Ctx] {
	return Answer[Data, Ctx]{
		Kind:  KindError,
		Route: r,
		Ctx:   ctx,
		Cause: cause,
	}
}

// Dropped constructs a ledger-timeout answer.
func Dropped[Data, Ctx any](r route.Route, ctx Ctx) Answer[Data, Ctx] {
	return Answer[Data, Ctx]{
		Kind:  KindDropped,
		Route: r,
		Ctx:   ctx,
	}
}

// Failed reports whether this answer is one of Ratelimited, Error, Dropped —
// the FailedRequest group from the data model.
func (a Answer[Data, Ctx]) Failed() bool {
	return a.Kind != KindResponse
}
