package route

import "testing"

func TestMaskSharesBucketAcrossIDs(t *testing.T) {
	a := Mask("/v1/users/111/messages")
	b := Mask("/v1/users/222/messages")

	if a != b {
		t.Fatalf("expected shared rawRoute template, got %q and %q", a, b)
	}
	if a != "/v1/users/{id}/messages" {
		t.Fatalf("unexpected masked template: %q", a)
	}
}

func TestMaskLeavesNonIDSegmentsAlone(t *testing.T) {
	got := Mask("/v1/guilds/abc/emojis")
	want := "/v1/guilds/abc/emojis"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMaskStripsQuery(t *testing.T) {
	got := Mask("/v1/channels/12345?limit=50")
	want := "/v1/channels/{id}"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewMaskedSetsRawRoute(t *testing.T) {
	r := NewMasked("GET", "/v1/users/111/messages")
	if r.RawRoute != "GET /v1/users/{id}/messages" {
		t.Fatalf("unexpected rawRoute: %q", r.RawRoute)
	}
	if r.URI != "/v1/users/111/messages" {
		t.Fatalf("unexpected URI: %q", r.URI)
	}
}
