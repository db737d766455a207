package order

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"synth-core/internal/events"
	"synth-core/pkg/config"
)

// DryRunExecutor stands in for Executor when trading is simulated. It never
// contacts the venue and never creates an open trade; each intent yields
// exactly one execution_skipped event.
type DryRunExecutor struct {
	multipliers *MultiplierResolver
	rec         events.Recorder
	log         zerolog.Logger
}

// NewDryRunExecutor returns a simulated executor. multipliers may be nil.
func NewDryRunExecutor(multipliers *MultiplierResolver, rec events.Recorder, log zerolog.Logger) *DryRunExecutor {
	return &DryRunExecutor{multipliers: multipliers, rec: rec, log: log.With().Str("component", "dry_run").Logger()}
}

func (d *DryRunExecutor) Execute(_ context.Context, in Intent) Result {
	data := in.Fields()
	data["dry_run"] = true
	if in.ContractType == config.ContractMultiplier && d.multipliers != nil {
		// Only what is already cached: a lookup would be a venue call.
		if allowed, ok := d.multipliers.Cached(in.Symbol); ok {
			data["multiplier"] = Nearest(allowed, in.Multiplier)
			data["requested_multiplier"] = in.Multiplier
		}
	}
	d.rec.Record(events.Entry{
		Type:    events.EventExecutionSkipped,
		Symbol:  in.Symbol,
		Message: fmt.Sprintf("dry-run: %s %s stake=%s", in.Symbol, in.Side, in.Stake.StringFixed(2)),
		Data:    data,
	})
	d.log.Info().
		Str("symbol", in.Symbol).
		Str("side", in.Side).
		Str("stake", in.Stake.StringFixed(2)).
		Str("contract_type", in.ContractType).
		Msg("execution skipped")
	return Result{Intent: in, Skipped: true}
}
