package report

import (
	"math/big"
	"strings"
	"time"

	"rangekeeper/internal/model"
)

// PositionSummary aggregates the stored observations of one LP NFT.
type PositionSummary struct {
	TokenID        string
	Pool           string
	Cycles         int
	InRangeCycles  int
	StakedCycles   int
	TimeInRangePct float64
	MaxPercentOut  float64
	FirstSeen      time.Time
	LastSeen       time.Time
	LastRange      model.TickRange
	LastEarned     string
}

// Summary is the keeper's activity over a reporting window.
type Summary struct {
	Since        time.Time
	Cycles       int
	Stakes       int
	Rebalances   int
	Failures     int
	Bootstraps   int
	Transactions int
	Positions    []PositionSummary
}

// Build folds cycle and position history into a summary. Inputs are
// expected oldest first, the order the store returns them in.
func Build(since time.Time, cycles []model.CycleRecord, positions []model.PositionRecord) Summary {
	summary := Summary{Since: since, Cycles: len(cycles)}

	for _, cycle := range cycles {
		summary.Transactions += len(cycle.TxHashes)
		for _, action := range cycle.Actions {
			switch {
			case strings.HasPrefix(action, "stake:"):
				summary.Stakes++
			case strings.HasPrefix(action, "rebalance:"):
				summary.Rebalances++
			case action == "bootstrap":
				summary.Bootstraps++
			case strings.HasSuffix(action, "_failed") || strings.Contains(action, "_failed:"):
				summary.Failures++
			}
		}
	}

	order := make([]string, 0, 8)
	byToken := make(map[string]*PositionSummary)
	for _, rec := range positions {
		pos := rec.Position
		entry := byToken[pos.TokenID]
		if entry == nil {
			entry = &PositionSummary{
				TokenID:   pos.TokenID,
				Pool:      pos.Pool,
				FirstSeen: rec.ObservedAt,
			}
			byToken[pos.TokenID] = entry
			order = append(order, pos.TokenID)
		}

		entry.Cycles++
		if pos.InRange {
			entry.InRangeCycles++
		}
		if pos.Staked {
			entry.StakedCycles++
		}
		if pos.PercentOut > entry.MaxPercentOut {
			entry.MaxPercentOut = pos.PercentOut
		}
		entry.LastSeen = rec.ObservedAt
		entry.LastRange = model.TickRange{Lower: pos.TickLower, Upper: pos.TickUpper}
		entry.LastEarned = pos.Earned
	}

	for _, tokenID := range order {
		entry := byToken[tokenID]
		if entry.Cycles > 0 {
			entry.TimeInRangePct = 100 * float64(entry.InRangeCycles) / float64(entry.Cycles)
		}
		summary.Positions = append(summary.Positions, *entry)
	}

	return summary
}

// FormatRewardAmount renders a raw integer reward amount as a decimal
// string. Inputs that do not parse as integers pass through unchanged.
func FormatRewardAmount(raw string, decimals uint8) string {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(abs, denom)
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}
