package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/tjfontaine/discordgw/internal/reqres"
	"github.com/tjfontaine/discordgw/internal/route"
)

func testRoute() route.Route {
	return route.New(http.MethodGet, "http://example/x", "GET /x")
}

// succeedOnAttempt builds a fake inner flow that fails every request whose
// wrapped attempt counter is below wantAttempt, and succeeds once it's
// reached, exercising the harness's re-injection path without a real
// network dependency.
func succeedOnAttempt(wantAttempt int) Flow[string, wrappedCtx[string, int]] {
	return func(ctx context.Context, in <-chan *reqres.Request[string, wrappedCtx[string, int]]) <-chan reqres.Answer[string, wrappedCtx[string, int]] {
		out := make(chan reqres.Answer[string, wrappedCtx[string, int]])
		go func() {
			defer close(out)
			for req := range in {
				if req.Ctx.attempt >= wantAttempt {
					out <- reqres.Response[string, wrappedCtx[string, int]](req.Route, req.Ctx, "ok", time.Second, 1, 1)
				} else {
					out <- reqres.Errored[string, wrappedCtx[string, int]](req.Route, req.Ctx, errors.New("simulated failure"))
				}
			}
		}()
		return out
	}
}

func TestHarnessRetriesUntilSuccess(t *testing.T) {
	h := New[string, int](5, succeedOnAttempt(2), nil)

	in := make(chan *reqres.Request[string, int], 1)
	req := reqres.New[string, int](testRoute(), 7, func(b []byte) (string, error) { return string(b), nil })
	in <- req
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	answer := <-h.Run(ctx, in)
	if answer.Kind != reqres.KindResponse {
		t.Fatalf("expected eventual success, got %v (cause %v)", answer.Kind, answer.Cause)
	}
	if answer.Data != "ok" {
		t.Fatalf("expected data %q, got %q", "ok", answer.Data)
	}
	if answer.Ctx != 7 {
		t.Fatalf("expected ctx to round-trip to 7, got %v", answer.Ctx)
	}
}

func TestHarnessSurfacesExhaustionAsError(t *testing.T) {
	h := New[string, int](2, succeedOnAttempt(99), nil) // never succeeds within 2 attempts

	in := make(chan *reqres.Request[string, int], 1)
	req := reqres.New[string, int](testRoute(), 1, func(b []byte) (string, error) { return string(b), nil })
	in <- req
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	answer := <-h.Run(ctx, in)
	if answer.Kind != reqres.KindError {
		t.Fatalf("expected KindError on exhaustion, got %v", answer.Kind)
	}
	if !errors.Is(answer.Cause, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", answer.Cause)
	}
}
