package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tjfontaine/discordgw/internal/ledger"
	"github.com/tjfontaine/discordgw/internal/reqres"
)

// ErrIngressOverflow is the cause attached to an Errored answer produced by
// the Fail overflow strategy.
var ErrIngressOverflow = errors.New("pipeline: ingress buffer overflow")

// ingressStage owns the fixed-capacity queue in front of the ledger gate.
// It returns the buffered request stream plus a stream of answers produced
// directly by the Fail overflow strategy (BackPressure blocks instead, and
// the three drop strategies discard without producing an answer).
func ingressStage[Data, Ctx any](ctx context.Context, in <-chan *reqres.Request[Data, Ctx], cfg Config, logger *slog.Logger) (<-chan *reqres.Request[Data, Ctx], <-chan reqres.Answer[Data, Ctx]) {
	buffered := make(chan *reqres.Request[Data, Ctx], cfg.BufferSize)
	early := make(chan reqres.Answer[Data, Ctx])

	go func() {
		defer close(buffered)
		defer close(early)

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

			switch cfg.OverflowStrategy {
			case BackPressure:
				select {
				case buffered <- req:
				case <-ctx.Done():
					return
				}

			case DropNewest:
				select {
				case buffered <- req:
				default:
					logger.Warn("pipeline: dropping newest request, ingress buffer full", slog.String("raw_route", req.Route.RawRoute))
				}

			case DropOldest:
				select {
				case buffered <- req:
				default:
					select {
					case <-buffered:
					default:
					}
					select {
					case buffered <- req:
					default:
					}
				}

			case DropBuffer:
				select {
				case buffered <- req:
				default:
					drainAll(buffered)
					select {
					case buffered <- req:
					case <-ctx.Done():
						return
					}
				}

			case Fail:
				select {
				case buffered <- req:
				default:
					answer := reqres.Errored[Data, Ctx](req.Route, req.Ctx, ErrIngressOverflow)
					select {
					case early <- answer:
					case <-ctx.Done():
						return
					}
				}

			default:
				select {
				case buffered <- req:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return buffered, early
}

func drainAll[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// ledgerGateStage runs up to cfg.Parallelism concurrent WantToPass queries.
// Ordering across requests is not preserved past this stage, since
// admitted/dropped completion happens in whichever order the ledger
// replies.
func ledgerGateStage[Data, Ctx any](ctx context.Context, in <-chan *reqres.Request[Data, Ctx], l *ledger.Ledger, cfg Config) (<-chan *reqres.Request[Data, Ctx], <-chan reqres.Answer[Data, Ctx]) {
	passed := make(chan *reqres.Request[Data, Ctx])
	dropped := make(chan reqres.Answer[Data, Ctx])

	var wg sync.WaitGroup
	workers := cfg.Parallelism
	if workers < 1 {
		workers = 1
	}
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for req := range in {
				if l.WantToPass(ctx, req.Route.RawRoute, cfg.MaxAllowedWait) {
					select {
					case passed <- req:
					case <-ctx.Done():
						return
					}
					continue
				}
				select {
				case dropped <- reqres.Dropped[Data, Ctx](req.Route, req.Ctx):
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(passed)
		close(dropped)
	}()

	return passed, dropped
}
