package lifecycle

import (
	"context"

	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// ConsumptionFact is emitted once for every committed consumption.
type ConsumptionFact struct {
	TraceID     string
	RegisterID  ids.RegisterID
	TxID        string
	Nullifier   ids.Nullifier
	Successors  []ids.RegisterID
	BlockHeight uint64
}

// FactSink receives consumption facts after commit.
type FactSink interface {
	Emit(ctx context.Context, fact ConsumptionFact)
}

// FactSinkFunc adapts a function to FactSink.
type FactSinkFunc func(ctx context.Context, fact ConsumptionFact)

// Emit implements FactSink.
func (f FactSinkFunc) Emit(ctx context.Context, fact ConsumptionFact) {
	f(ctx, fact)
}
