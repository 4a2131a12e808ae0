package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/discordgw/internal/errs"
	"github.com/tjfontaine/discordgw/internal/ledger"
	"github.com/tjfontaine/discordgw/internal/reqres"
	"github.com/tjfontaine/discordgw/internal/telemetry"
)

// maxErrorBodyBytes bounds how much of a non-2xx body is read into an
// HTTPError.
const maxErrorBodyBytes = 16 * 1024

// dispatchStage builds and sends the HTTP request, parses the response, and
// feeds meaningful rate-limit snapshots back to the ledger. Building,
// sending, parsing, and feedback are fused into one worker pool since none
// of those steps need to interleave with other requests.
func dispatchStage[Data, Ctx any](ctx context.Context, in <-chan *reqres.Request[Data, Ctx], cfg Config, client *http.Client, l *ledger.Ledger, logger *slog.Logger) <-chan reqres.Answer[Data, Ctx] {
	out := make(chan reqres.Answer[Data, Ctx])

	workers := cfg.Parallelism
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for req := range in {
				answer, snapshot := dispatchOne(ctx, req, cfg, client, logger)
				if snapshot.Meaningful() {
					// Fire-and-forget: feedback into C1 never blocks egress.
					go l.UpdateRatelimits(req.Route.RawRoute, snapshot.IsGlobal, snapshot.TilReset, snapshot.Remaining, snapshot.Limit)
				}
				select {
				case out <- answer:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func dispatchOne[Data, Ctx any](ctx context.Context, req *reqres.Request[Data, Ctx], cfg Config, client *http.Client, logger *slog.Logger) (reqres.Answer[Data, Ctx], RatelimitSnapshot) {
	ctx, span := telemetry.StartRouteSpan(ctx, "pipeline.dispatch", req.Route.Method, req.Route.RawRoute)
	defer span.End()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Route.Method, req.Route.URI, body)
	if err != nil {
		return reqres.Errored[Data, Ctx](req.Route, req.Ctx, &errs.TransportError{Cause: err}), RatelimitSnapshot{Remaining: -1, Limit: -1}
	}

	httpReq.Header.Set("Authorization", cfg.Credentials)
	httpReq.Header.Set("User-Agent", cfg.UserAgent)
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Reason != "" {
		httpReq.Header.Set("X-Audit-Log-Reason", req.Reason)
	}

	if cfg.LogSentREST {
		attrs := []any{slog.String("method", req.Route.Method), slog.String("uri", req.Route.URI)}
		if req.LogBody != nil {
			attrs = append(attrs, slog.String("body", req.LogBody()))
		}
		logger.Info("pipeline: sending REST request", attrs...)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return reqres.Errored[Data, Ctx](req.Route, req.Ctx, &errs.TransportError{Cause: err}), RatelimitSnapshot{Remaining: -1, Limit: -1}
	}
	defer resp.Body.Close()

	snapshot := ExtractRatelimitSnapshot(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		if cfg.LogReceivedREST {
			logger.Info("pipeline: received 429", slog.String("raw_route", req.Route.RawRoute), slog.Bool("global", snapshot.IsGlobal))
		}
		return reqres.Ratelimited[Data, Ctx](req.Route, req.Ctx, snapshot.IsGlobal, snapshot.TilReset, snapshot.Limit), snapshot
	}

	if resp.StatusCode == http.StatusNoContent {
		data, perr := req.Parser(nil)
		if perr != nil {
			return reqres.Errored[Data, Ctx](req.Route, req.Ctx, &errs.DecodeError{Cause: perr}), snapshot
		}
		return reqres.Response[Data, Ctx](req.Route, req.Ctx, data, snapshot.TilReset, snapshot.Remaining, snapshot.Limit), snapshot
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limited := io.LimitReader(resp.Body, maxErrorBodyBytes)
		errBody, _ := io.ReadAll(limited)
		return reqres.Errored[Data, Ctx](req.Route, req.Ctx, &errs.HTTPError{Status: resp.StatusCode, Body: errBody}), snapshot
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return reqres.Errored[Data, Ctx](req.Route, req.Ctx, &errs.TransportError{Cause: err}), snapshot
	}

	if cfg.LogReceivedREST {
		logger.Info("pipeline: received REST response", slog.String("raw_route", req.Route.RawRoute), slog.Int("status", resp.StatusCode))
	}

	data, perr := req.Parser(respBody)
	if perr != nil {
		return reqres.Errored[Data, Ctx](req.Route, req.Ctx, &errs.DecodeError{Cause: perr}), snapshot
	}

	return reqres.Response[Data, Ctx](req.Route, req.Ctx, data, snapshot.TilReset, snapshot.Remaining, snapshot.Limit), snapshot
}

// NewHTTPClient builds the shared, connection-pooled client the pipeline
// dispatches through, wrapped in otelhttp so every outbound call produces a
// client span nested under the span dispatchOne starts. Callers may
// substitute their own (e.g. a go-vcr recorder in tests, which dispatches
// through a cassette instead of a real transport).
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(&http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		}),
	}
}
