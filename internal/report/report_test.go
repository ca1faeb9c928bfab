package report

import (
	"testing"
	"time"

	"rangekeeper/internal/model"
)

func TestBuildCountsActions(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cycles := []model.CycleRecord{
		{Cycle: 1, Actions: []string{"stake:7"}, TxHashes: []string{"0x1", "0x2"}},
		{Cycle: 2, Actions: nil},
		{Cycle: 3, Actions: []string{"rebalance:7"}, TxHashes: []string{"0x3", "0x4", "0x5"}},
		{Cycle: 4, Actions: []string{"rebalance_failed:9"}},
		{Cycle: 5, Actions: []string{"bootstrap"}, TxHashes: []string{"0x6"}},
	}

	summary := Build(since, cycles, nil)
	if summary.Cycles != 5 {
		t.Fatalf("cycles %d, want 5", summary.Cycles)
	}
	if summary.Stakes != 1 || summary.Rebalances != 1 || summary.Bootstraps != 1 {
		t.Fatalf("action counts: %+v", summary)
	}
	if summary.Failures != 1 {
		t.Fatalf("failures %d, want 1", summary.Failures)
	}
	if summary.Transactions != 6 {
		t.Fatalf("transactions %d, want 6", summary.Transactions)
	}
}

func TestBuildPositionSummaries(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	at := func(cycle uint64) time.Time {
		return start.Add(time.Duration(cycle) * time.Minute)
	}
	pos := func(cycle uint64, inRange, staked bool, percentOut float64) model.PositionRecord {
		return model.PositionRecord{
			Cycle:      cycle,
			ObservedAt: at(cycle),
			Position: model.PositionSnapshot{
				TokenID:    "7",
				Pool:       "0xpool",
				TickLower:  -196440,
				TickUpper:  -196200,
				InRange:    inRange,
				Staked:     staked,
				PercentOut: percentOut,
				Earned:     "5000000000000000000",
			},
		}
	}

	records := []model.PositionRecord{
		pos(1, true, false, 0),
		pos(2, true, true, 0),
		pos(3, false, true, 12.5),
		pos(4, true, true, 0),
	}

	summary := Build(start, nil, records)
	if len(summary.Positions) != 1 {
		t.Fatalf("positions %d, want 1", len(summary.Positions))
	}
	got := summary.Positions[0]
	if got.Cycles != 4 || got.InRangeCycles != 3 || got.StakedCycles != 3 {
		t.Fatalf("counts: %+v", got)
	}
	if got.TimeInRangePct != 75 {
		t.Fatalf("time in range %v, want 75", got.TimeInRangePct)
	}
	if got.MaxPercentOut != 12.5 {
		t.Fatalf("max percent out %v", got.MaxPercentOut)
	}
	if !got.FirstSeen.Equal(at(1)) || !got.LastSeen.Equal(at(4)) {
		t.Fatalf("seen window %v .. %v", got.FirstSeen, got.LastSeen)
	}
	if got.LastRange.Lower != -196440 || got.LastRange.Upper != -196200 {
		t.Fatalf("last range %+v", got.LastRange)
	}
}

func TestBuildKeepsFirstSeenOrder(t *testing.T) {
	start := time.Now()
	records := []model.PositionRecord{
		{Cycle: 1, Position: model.PositionSnapshot{TokenID: "9"}},
		{Cycle: 1, Position: model.PositionSnapshot{TokenID: "3"}},
		{Cycle: 2, Position: model.PositionSnapshot{TokenID: "9"}},
	}

	summary := Build(start, nil, records)
	if len(summary.Positions) != 2 {
		t.Fatalf("positions %d, want 2", len(summary.Positions))
	}
	if summary.Positions[0].TokenID != "9" || summary.Positions[1].TokenID != "3" {
		t.Fatalf("order: %s, %s", summary.Positions[0].TokenID, summary.Positions[1].TokenID)
	}
}

func TestFormatRewardAmount(t *testing.T) {
	cases := []struct {
		raw      string
		decimals uint8
		want     string
	}{
		{"5000000000000000000", 18, "5.000000000000000000"},
		{"1", 6, "0.000001"},
		{"0", 18, "0.000000000000000000"},
		{"123", 0, "123"},
		{"not-a-number", 18, "not-a-number"},
	}
	for _, tc := range cases {
		if got := FormatRewardAmount(tc.raw, tc.decimals); got != tc.want {
			t.Fatalf("FormatRewardAmount(%q, %d) = %q, want %q", tc.raw, tc.decimals, got, tc.want)
		}
	}
}
