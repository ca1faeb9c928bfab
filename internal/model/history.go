package model

import "time"

// CycleRecord is one stored cycle row read back from history.
type CycleRecord struct {
	Cycle      uint64
	ObservedAt time.Time
	Actions    []string
	TxHashes   []string
}

// PositionRecord is one stored per-cycle position observation.
type PositionRecord struct {
	Cycle      uint64
	ObservedAt time.Time
	Position   PositionSnapshot
}
