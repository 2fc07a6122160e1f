package pipeline

import (
	"context"

	"spikeflow/internal/ledger"
)

// History receives run and outcome records. *ledger.Store satisfies it.
type History interface {
	BeginRun(ctx context.Context, run ledger.Run) error
	Record(ctx context.Context, o ledger.Outcome) error
	FinishRun(ctx context.Context, run ledger.Run) error
}
