package pipeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/tjfontaine/discordgw/internal/ledger"
	"github.com/tjfontaine/discordgw/internal/reqres"
	"github.com/tjfontaine/discordgw/internal/route"
	"github.com/tjfontaine/discordgw/internal/testutil"
)

// TestDispatchAgainstRecordedFixture replays a recorded REST exchange
// instead of standing up an httptest server, exercising the same client
// injection path a cassette recorded against the real endpoint would use.
func TestDispatchAgainstRecordedFixture(t *testing.T) {
	rec, cleanup := testutil.NewVCRRecorder(t, "send_message")
	defer cleanup()
	client := testutil.VCRHTTPClient(rec)

	l := ledger.New(nil)
	defer l.Close()

	cfg := DefaultConfig("Bot xyz", "discordgw-test/1.0")
	p := New[string, int](cfg, l, client, nil)

	r := route.New(http.MethodPost, "https://discord.example.invalid/api/v10/channels/123/messages", "POST /channels/{id}/messages")
	req := reqres.New[string, int](r, 7, testParser).WithBody([]byte(`{"content":"hello"}`))
	req.Headers.Set("Content-Type", "application/json")

	in := make(chan *reqres.Request[string, int], 1)
	in <- req
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	answer := <-p.RequestFlow(ctx, in)
	if answer.Kind != reqres.KindResponse {
		t.Fatalf("expected KindResponse, got %v (cause %v)", answer.Kind, answer.Cause)
	}
	if answer.Data != `{"id":"999"}` {
		t.Fatalf("unexpected body: %q", answer.Data)
	}
	if answer.RemainingRequests != 4 || answer.URIRequestLimit != 5 {
		t.Fatalf("expected rate-limit snapshot to round-trip, got remaining=%d limit=%d", answer.RemainingRequests, answer.URIRequestLimit)
	}
}
