// Package retry implements the retry harness (C3): it wraps a
// Flow<Request, Answer> into a Flow<Request, Answer> that retries failed
// answers up to a bound and prefers re-injected retries over fresh input at
// the ingress, so feedback from egress to ingress can't deadlock a
// back-pressured buffer.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/tjfontaine/discordgw/internal/reqres"
)

// ErrExhausted is the terminal cause attached to a request that failed
// maxRetryCount times. The source design this harness is modeled on drops
// exhausted requests silently; this implementation surfaces them instead so
// callers can observe and account for the loss (see DESIGN.md).
var ErrExhausted = errors.New("retry: attempts exhausted")

// wrappedCtx tags an in-flight request with its attempt counter and holds
// enough of the original request to resubmit it unchanged on retry.
type wrappedCtx[Data, Ctx any] struct {
	attempt  int
	original Ctx
	route    reqres.Request[Data, Ctx]
}

// Flow is the shape both the wrapped pipeline and the harness itself
// expose: submit a stream of requests, receive a stream of answers.
type Flow[Data, Ctx any] func(ctx context.Context, in <-chan *reqres.Request[Data, Ctx]) <-chan reqres.Answer[Data, Ctx]

// Harness re-injects FailedRequest answers from an inner flow back into its
// own ingress, up to maxRetryCount attempts per request.
type Harness[Data, Ctx any] struct {
	maxRetryCount int
	inner         Flow[Data, wrappedCtx[Data, Ctx]]
	logger        *slog.Logger
}

// New builds a Harness around inner, an already-constructed pipeline flow
// (typically Pipeline.RequestFlow) parameterized over the harness's own
// wrapped context type.
func New[Data, Ctx any](maxRetryCount int, inner Flow[Data, wrappedCtx[Data, Ctx]], logger *slog.Logger) *Harness[Data, Ctx] {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetryCount < 1 {
		maxRetryCount = 1
	}
	return &Harness[Data, Ctx]{maxRetryCount: maxRetryCount, inner: inner, logger: logger}
}

// Run wraps in with attempt-0 context, drives it through the inner flow,
// and re-emits only Response answers (unwrapped back to the caller's
// original Ctx) plus terminal Errored answers for exhausted requests.
//
// Shutdown is two-phase: closing in doesn't by itself close the harness's
// internal ingress, since requests already admitted may still be retried.
// inFlight tracks logical requests (an original request plus however many
// of its retries) that haven't reached a terminal answer yet; only once in
// is closed and inFlight drops to zero do retries and ingress close.
func (h *Harness[Data, Ctx]) Run(ctx context.Context, in <-chan *reqres.Request[Data, Ctx]) <-chan reqres.Answer[Data, Ctx] {
	ingress := make(chan *reqres.Request[Data, wrappedCtx[Data, Ctx]])
	retries := make(chan *reqres.Request[Data, wrappedCtx[Data, Ctx]])
	out := make(chan reqres.Answer[Data, Ctx])

	var inClosed atomic.Bool
	var inFlight atomic.Int64

	go h.mergeIngress(ctx, in, retries, ingress, &inClosed, &inFlight)

	answers := h.inner(ctx, ingress)

	go func() {
		defer close(out)

		for answer := range answers {
			wctx := answer.Ctx

			if answer.Kind == reqres.KindResponse {
				h.settle(&inClosed, &inFlight, retries)
				select {
				case out <- reqres.Response[Data, Ctx](answer.Route, wctx.original, answer.Data, answer.TilReset, answer.RemainingRequests, answer.URIRequestLimit):
				case <-ctx.Done():
					return
				}
				continue
			}

			nextAttempt := wctx.attempt + 1
			if nextAttempt < h.maxRetryCount {
				retryReq := wrapRequest(&wctx.route, wctx.original, nextAttempt)
				select {
				case retries <- retryReq:
				case <-ctx.Done():
					return
				}
				continue
			}

			h.logger.Warn("retry: attempts exhausted", slog.String("raw_route", answer.Route.RawRoute), slog.Int("attempts", h.maxRetryCount))
			h.settle(&inClosed, &inFlight, retries)
			select {
			case out <- reqres.Errored[Data, Ctx](answer.Route, wctx.original, ErrExhausted):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// settle decrements the in-flight counter for a logical request that just
// reached a terminal answer, closing retries once none remain and no more
// fresh requests can arrive.
func (h *Harness[Data, Ctx]) settle(inClosed *atomic.Bool, inFlight *atomic.Int64, retries chan *reqres.Request[Data, wrappedCtx[Data, Ctx]]) {
	if inFlight.Add(-1) == 0 && inClosed.Load() {
		close(retries)
	}
}

// mergeIngress feeds ingress from two sources, preferring retries: a
// non-blocking check of retries runs first on every iteration before
// falling back to a fair select across both. An unpreferred merge can
// deadlock under back-pressure: a full ingress buffer would starve
// retries behind fresh input that itself can't drain until a retry
// slot frees up.
func (h *Harness[Data, Ctx]) mergeIngress(ctx context.Context, in <-chan *reqres.Request[Data, Ctx], retries <-chan *reqres.Request[Data, wrappedCtx[Data, Ctx]], ingress chan<- *reqres.Request[Data, wrappedCtx[Data, Ctx]], inClosed *atomic.Bool, inFlight *atomic.Int64) {
	for {
		select {
		case req, ok := <-retries:
			if !ok {
				close(ingress)
				return
			}
			if !h.forward(ctx, ingress, req) {
				return
			}
			continue
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case req, ok := <-retries:
			if !ok {
				close(ingress)
				return
			}
			if !h.forward(ctx, ingress, req) {
				return
			}
		case req, ok := <-in:
			if !ok {
				inClosed.Store(true)
				in = nil
				if inFlight.Load() == 0 {
					close(ingress)
					return
				}
				continue
			}
			inFlight.Add(1)
			wrapped := wrapRequest(req, req.Ctx, 0)
			if !h.forward(ctx, ingress, wrapped) {
				return
			}
		}
	}
}

func (h *Harness[Data, Ctx]) forward(ctx context.Context, ingress chan<- *reqres.Request[Data, wrappedCtx[Data, Ctx]], req *reqres.Request[Data, wrappedCtx[Data, Ctx]]) bool {
	select {
	case ingress <- req:
		return true
	case <-ctx.Done():
		return false
	}
}

func wrapRequest[Data, Ctx any](req *reqres.Request[Data, Ctx], original Ctx, attempt int) *reqres.Request[Data, wrappedCtx[Data, Ctx]] {
	wctx := wrappedCtx[Data, Ctx]{attempt: attempt, original: original, route: *req}
	wrapped := reqres.New[Data, wrappedCtx[Data, Ctx]](req.Route, wctx, req.Parser)
	wrapped.Body = req.Body
	wrapped.Headers = req.Headers
	wrapped.Reason = req.Reason
	wrapped.LogBody = req.LogBody
	return wrapped
}
