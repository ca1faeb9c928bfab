package model

import "time"

// PositionSnapshot is a per-cycle observation of one LP NFT, shaped for
// storage.
type PositionSnapshot struct {
	TokenID     string
	Pool        string
	TickLower   int
	TickUpper   int
	Liquidity   string
	CurrentTick int
	InRange     bool
	PercentOut  float64
	Staked      bool
	Earned      string
}

// CycleSnapshot records what one monitor cycle observed and did.
type CycleSnapshot struct {
	Cycle     uint64
	Timestamp time.Time
	Positions []PositionSnapshot
	Actions   []string
	TxHashes  []string
}
