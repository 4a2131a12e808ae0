package auditlog

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/tjfontaine/discordgw/internal/reqres"
	"github.com/tjfontaine/discordgw/internal/route"
)

func TestRecordAndListByRawRoute(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	r := route.New(http.MethodPost, "/channels/123/messages", "POST /channels/{id}/messages")

	ok := reqres.Response[string, int](r, 1, "ok", 0, 4, 5)
	if err := Record(ctx, s, ok, "posting a message"); err != nil {
		t.Fatalf("Record success: %v", err)
	}

	failed := reqres.Errored[string, int](r, 2, errors.New("boom"))
	if err := Record(ctx, s, failed, ""); err != nil {
		t.Fatalf("Record failure: %v", err)
	}

	entries, err := s.ListByRawRoute(ctx, r.RawRoute, 10)
	if err != nil {
		t.Fatalf("ListByRawRoute: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	// Newest first.
	if entries[0].Outcome != "Error" || entries[0].Cause != "boom" {
		t.Fatalf("unexpected newest entry: %+v", entries[0])
	}
	if entries[1].Outcome != "Response" || entries[1].Reason != "posting a message" {
		t.Fatalf("unexpected oldest entry: %+v", entries[1])
	}
}
