package pipeline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/discordgw/internal/ledger"
	"github.com/tjfontaine/discordgw/internal/reqres"
)

// Pipeline wires the ingress buffer, ledger gate, and HTTP dispatch stages
// into a single request/answer flow.
type Pipeline[Data, Ctx any] struct {
	cfg    Config
	ledger *ledger.Ledger
	client *http.Client
	logger *slog.Logger
}

// New builds a Pipeline bound to a shared ledger and HTTP client. client may
// be nil, in which case a pooled client is created from cfg.
func New[Data, Ctx any](cfg Config, l *ledger.Ledger, client *http.Client, logger *slog.Logger) *Pipeline[Data, Ctx] {
	if client == nil {
		client = NewHTTPClient(cfg.MaxAllowedWait)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline[Data, Ctx]{cfg: cfg, ledger: l, client: client, logger: logger}
}

// RequestFlow submits in through the full ingress/ledger/dispatch graph and
// returns every terminal Answer, ratelimit-aware, in whatever order stages
// complete.
func (p *Pipeline[Data, Ctx]) RequestFlow(ctx context.Context, in <-chan *reqres.Request[Data, Ctx]) <-chan reqres.Answer[Data, Ctx] {
	buffered, overflowed := ingressStage(ctx, in, p.cfg, p.logger)
	passed, dropped := ledgerGateStage(ctx, buffered, p.ledger, p.cfg)
	dispatched := dispatchStage(ctx, passed, p.cfg, p.client, p.ledger, p.logger)
	return mergeAnswers(ctx, overflowed, dropped, dispatched)
}

// RequestFlowWithoutRatelimit skips the ledger gate entirely — every
// request that survives the ingress buffer is dispatched immediately. This
// exists for callers issuing requests against routes the ledger doesn't
// need to protect (e.g. one-shot administrative calls).
func (p *Pipeline[Data, Ctx]) RequestFlowWithoutRatelimit(ctx context.Context, in <-chan *reqres.Request[Data, Ctx]) <-chan reqres.Answer[Data, Ctx] {
	buffered, overflowed := ingressStage(ctx, in, p.cfg, p.logger)
	dispatched := dispatchStage(ctx, buffered, p.cfg, p.client, p.ledger, p.logger)
	return mergeAnswers(ctx, overflowed, dispatched)
}

// DataResponses filters a stream of Answers down to only the Data payloads
// of successful responses, discarding ratelimited/errored/dropped answers.
// This is the convenience surface for callers who only want the happy path.
func DataResponses[Data, Ctx any](in <-chan reqres.Answer[Data, Ctx]) <-chan Data {
	out := make(chan Data)
	go func() {
		defer close(out)
		for answer := range in {
			if answer.Kind == reqres.KindResponse {
				out <- answer.Data
			}
		}
	}()
	return out
}

// AddOrdering wraps flow so that requests are processed one at a time, in
// submission order, sacrificing the pipeline's normal fan-out concurrency
// for callers that need in-order answers (e.g. sequential channel history
// backfill).
func AddOrdering[Data, Ctx any](flow func(ctx context.Context, in <-chan *reqres.Request[Data, Ctx]) <-chan reqres.Answer[Data, Ctx]) func(ctx context.Context, in <-chan *reqres.Request[Data, Ctx]) <-chan reqres.Answer[Data, Ctx] {
	return func(ctx context.Context, in <-chan *reqres.Request[Data, Ctx]) <-chan reqres.Answer[Data, Ctx] {
		out := make(chan reqres.Answer[Data, Ctx])
		go func() {
			defer close(out)
			for {
				var req *reqres.Request[Data, Ctx]
				var ok bool
				select {
				case <-ctx.Done():
					return
				case req, ok = <-in:
					if !ok {
						return
					}
				}

				single := make(chan *reqres.Request[Data, Ctx], 1)
				single <- req
				close(single)

				for answer := range flow(ctx, single) {
					select {
					case out <- answer:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out
	}
}

func mergeAnswers[Data, Ctx any](ctx context.Context, chans ...<-chan reqres.Answer[Data, Ctx]) <-chan reqres.Answer[Data, Ctx] {
	out := make(chan reqres.Answer[Data, Ctx])
	remaining := len(chans)
	if remaining == 0 {
		close(out)
		return out
	}

	done := make(chan struct{}, remaining)
	for _, c := range chans {
		go func(c <-chan reqres.Answer[Data, Ctx]) {
			for answer := range c {
				select {
				case out <- answer:
				case <-ctx.Done():
					done <- struct{}{}
					return
				}
			}
			done <- struct{}{}
		}(c)
	}

	go func() {
		for i := 0; i < remaining; i++ {
			<-done
		}
		close(out)
	}()

	return out
}
