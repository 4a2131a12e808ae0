package pipeline

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/tjfontaine/discordgw/internal/ledger"
	"github.com/tjfontaine/discordgw/internal/reqres"
	"github.com/tjfontaine/discordgw/internal/route"
)

func testParser(body []byte) (string, error) {
	return string(body), nil
}

func TestRequestFlowSuccessRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.Header().Set("X-RateLimit-Limit", "5")
		w.Header().Set("X-RateLimit-Reset", timeMillis(time.Now().Add(time.Second)))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	l := ledger.New(nil)
	defer l.Close()

	cfg := DefaultConfig("Bot xyz", "discordgw-test/1.0")
	p := New[string, int](cfg, l, srv.Client(), nil)

	req := reqres.New[string, int](route.New(http.MethodGet, srv.URL, "GET /x"), 42, testParser)
	in := make(chan *reqres.Request[string, int], 1)
	in <- req
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	answer := <-p.RequestFlow(ctx, in)
	if answer.Kind != reqres.KindResponse {
		t.Fatalf("expected KindResponse, got %v (cause %v)", answer.Kind, answer.Cause)
	}
	if answer.Data != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", answer.Data)
	}
	if answer.Ctx != 42 {
		t.Fatalf("expected ctx to round-trip, got %v", answer.Ctx)
	}
}

func TestRequestFlowTranslates429ToRatelimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "50")
		w.Header().Set("X-Ratelimit-Global", "false")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	l := ledger.New(nil)
	defer l.Close()

	cfg := DefaultConfig("Bot xyz", "discordgw-test/1.0")
	p := New[string, int](cfg, l, srv.Client(), nil)

	req := reqres.New[string, int](route.New(http.MethodGet, srv.URL, "GET /x"), 0, testParser)
	in := make(chan *reqres.Request[string, int], 1)
	in <- req
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	answer := <-p.RequestFlow(ctx, in)
	if answer.Kind != reqres.KindRatelimited {
		t.Fatalf("expected KindRatelimited, got %v", answer.Kind)
	}
}

func TestRequestFlowTranslatesNon2xxToError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Unknown Message"}`))
	}))
	defer srv.Close()

	l := ledger.New(nil)
	defer l.Close()

	cfg := DefaultConfig("Bot xyz", "discordgw-test/1.0")
	p := New[string, int](cfg, l, srv.Client(), nil)

	req := reqres.New[string, int](route.New(http.MethodGet, srv.URL, "GET /x"), 0, testParser)
	in := make(chan *reqres.Request[string, int], 1)
	in <- req
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	answer := <-p.RequestFlow(ctx, in)
	if answer.Kind != reqres.KindError {
		t.Fatalf("expected KindError, got %v", answer.Kind)
	}
}

func TestIngressFailStrategyAnswersOverflowingRequest(t *testing.T) {
	cfg := DefaultConfig("Bot xyz", "discordgw-test/1.0")
	cfg.BufferSize = 1
	cfg.OverflowStrategy = Fail

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan *reqres.Request[string, int])
	buffered, early := ingressStage[string, int](ctx, in, cfg, discardLogger())

	r1 := reqres.New[string, int](route.New(http.MethodGet, "http://x/1", "GET /x"), 1, testParser)
	r2 := reqres.New[string, int](route.New(http.MethodGet, "http://x/2", "GET /x"), 2, testParser)

	in <- r1
	// Give the goroutine a moment to place r1 into the buffered channel.
	time.Sleep(20 * time.Millisecond)
	in <- r2

	select {
	case answer := <-early:
		if answer.Kind != reqres.KindError {
			t.Fatalf("expected overflow answer to be KindError, got %v", answer.Kind)
		}
		if answer.Ctx != 2 {
			t.Fatalf("expected the overflowing (second) request to be answered, got ctx %v", answer.Ctx)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for overflow answer")
	}

	close(in)
	<-buffered
}

func TestExtractRatelimitSnapshotPrefersRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "250")
	h.Set("X-RateLimit-Reset", timeMillis(time.Now().Add(10*time.Second)))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Limit", "1")

	snap := ExtractRatelimitSnapshot(h)
	if snap.TilReset != 250*time.Millisecond {
		t.Fatalf("expected Retry-After to take precedence, got %v", snap.TilReset)
	}
}

func timeMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
