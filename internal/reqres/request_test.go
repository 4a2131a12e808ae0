package reqres

import (
	"strings"
	"testing"

	"github.com/tjfontaine/discordgw/internal/route"
)

func testParser(b []byte) (string, error) { return string(b), nil }

func TestWithReasonAcceptsValidReason(t *testing.T) {
	r := New[string, int](route.NewMasked("POST", "/v1/guilds/1/bans/2"), 0, testParser)

	r, err := r.WithReason("spam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Reason != "spam" {
		t.Fatalf("expected reason %q, got %q", "spam", r.Reason)
	}
}

func TestWithReasonAcceptsEmptyReason(t *testing.T) {
	r := New[string, int](route.NewMasked("POST", "/v1/guilds/1/bans/2"), 0, testParser)

	r, err := r.WithReason("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Reason != "" {
		t.Fatalf("expected empty reason, got %q", r.Reason)
	}
}

func TestWithReasonRejectsInvalidUTF8(t *testing.T) {
	r := New[string, int](route.NewMasked("POST", "/v1/guilds/1/bans/2"), 0, testParser)

	if _, err := r.WithReason("bad\xff reason"); err == nil {
		t.Fatal("expected error for invalid UTF-8, got nil")
	}
}

func TestWithReasonRejectsOverLongReason(t *testing.T) {
	r := New[string, int](route.NewMasked("POST", "/v1/guilds/1/bans/2"), 0, testParser)

	if _, err := r.WithReason(strings.Repeat("a", maxReasonBytes+1)); err == nil {
		t.Fatal("expected error for over-long reason, got nil")
	}
}

func TestWithReasonAcceptsExactLimit(t *testing.T) {
	r := New[string, int](route.NewMasked("POST", "/v1/guilds/1/bans/2"), 0, testParser)

	reason := strings.Repeat("a", maxReasonBytes)
	r, err := r.WithReason(reason)
	if err != nil {
		t.Fatalf("unexpected error at exact limit: %v", err)
	}
	if r.Reason != reason {
		t.Fatal("reason not stored on request")
	}
}

func TestNewBuildsEmptyHeaders(t *testing.T) {
	r := New[string, int](route.NewMasked("GET", "/v1/users/1"), 0, testParser)
	if r.Headers == nil {
		t.Fatal("expected non-nil Headers map")
	}
	if len(r.Headers) != 0 {
		t.Fatalf("expected empty Headers, got %v", r.Headers)
	}
}

func TestWithHeaderSetsHeader(t *testing.T) {
	r := New[string, int](route.NewMasked("GET", "/v1/users/1"), 0, testParser)
	r.WithHeader("X-Custom", "value")

	if got := r.Headers.Get("X-Custom"); got != "value" {
		t.Fatalf("expected header value %q, got %q", "value", got)
	}
}

func TestWithBodyAttachesBody(t *testing.T) {
	r := New[string, int](route.NewMasked("POST", "/v1/users/1"), 0, testParser)
	r.WithBody([]byte(`{"a":1}`))

	if string(r.Body) != `{"a":1}` {
		t.Fatalf("unexpected body: %q", r.Body)
	}
}
