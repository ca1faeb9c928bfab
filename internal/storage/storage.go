package storage

import (
	"context"

	"rangekeeper/internal/model"
)

// Recorder defines a sink for cycle snapshots.
type Recorder interface {
	RecordCycle(ctx context.Context, snapshot model.CycleSnapshot) error
}

// Nop discards every snapshot.
type Nop struct{}

func (Nop) RecordCycle(context.Context, model.CycleSnapshot) error { return nil }
