package retry

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/discordgw/internal/ledger"
	"github.com/tjfontaine/discordgw/internal/pipeline"
)

// NewPipelineHarness builds a Harness whose inner flow is a pipeline.Pipeline
// instantiated over the harness's own retry bookkeeping. Callers only ever
// see their own Ctx; wrappedCtx never has to leave this package, since only
// code here can spell out pipeline.New's type argument for it.
func NewPipelineHarness[Data, Ctx any](maxRetryCount int, cfg pipeline.Config, l *ledger.Ledger, client *http.Client, logger *slog.Logger) *Harness[Data, Ctx] {
	p := pipeline.New[Data, wrappedCtx[Data, Ctx]](cfg, l, client, logger)
	return New[Data, Ctx](maxRetryCount, p.RequestFlow, logger)
}
