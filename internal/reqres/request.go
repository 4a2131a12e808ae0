// Package reqres holds the shared Request/Answer domain types that flow
// between the rate-limit ledger, the request pipeline, and the retry
// harness. None of these types carry mutable state of their own.
package reqres

import (
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/tjfontaine/discordgw/internal/route"
)

// maxReasonBytes is the upper bound on X-Audit-Log-Reason, per the remote
// service's own limit.
const maxReasonBytes = 512

// Request is a single REST call the pipeline will dispatch. Data is the
// decoded response payload type; Ctx is an opaque value round-tripped back
// to the caller in the resulting Answer.
type Request[Data, Ctx any] struct {
	Route   route.Route
	Body    []byte
	Headers http.Header
	Ctx     Ctx
	Reason  string

	// Parser decodes a successful (or empty 204) response body into Data.
	Parser func([]byte) (Data, error)

	// LogBody, if set, renders the request body for logging without
	// forcing every caller to pay marshaling cost when logging is off.
	LogBody func() string
}

// New builds a Request with no body, headers, or reason. Use the With*
// methods to fill in the rest.
func New[Data, Ctx any](r route.Route, ctx Ctx, parser func([]byte) (Data, error)) *Request[Data, Ctx] {
	return &Request[Data, Ctx]{
		Route:   r,
		Headers: make(http.Header),
		Ctx:     ctx,
		Parser:  parser,
	}
}

// WithBody attaches a request body.
func (r *Request[Data, Ctx]) WithBody(body []byte) *Request[Data, Ctx] {
	r.Body = body
	return r
}

// WithHeader sets an extra header sent alongside Authorization/User-Agent.
func (r *Request[Data, Ctx]) WithHeader(key, value string) *Request[Data, Ctx] {
	r.Headers.Set(key, value)
	return r
}

// WithLogBody attaches a lazily-evaluated body-for-logging hook.
func (r *Request[Data, Ctx]) WithLogBody(f func() string) *Request[Data, Ctx] {
	r.LogBody = f
	return r
}

// WithReason sets the audit-log reason, rejecting reasons over 512 bytes or
// containing invalid UTF-8 at construction time rather than at dispatch.
func (r *Request[Data, Ctx]) WithReason(reason string) (*Request[Data, Ctx], error) {
	if !utf8.ValidString(reason) {
		return nil, fmt.Errorf("audit-log reason is not valid UTF-8")
	}
	if len(reason) > maxReasonBytes {
		return nil, fmt.Errorf("audit-log reason exceeds %d bytes (got %d)", maxReasonBytes, len(reason))
	}
	r.Reason = reason
	return r, nil
}
