package clmath

import (
	"errors"
	"testing"

	"rangekeeper/internal/model"
)

func TestComputeNewRange(t *testing.T) {
	cases := []struct {
		name        string
		currentTick int
		spacing     int
		multiplier  float64
		want        model.TickRange
	}{
		{
			name:        "spacing wider than base width",
			currentTick: -196320,
			spacing:     60,
			multiplier:  2.6,
			want:        model.TickRange{Lower: -196440, Upper: -196200},
		},
		{
			name:        "tight spacing",
			currentTick: 1000,
			spacing:     10,
			multiplier:  2.0,
			want:        model.TickRange{Lower: 940, Upper: 1060},
		},
		{
			name:        "spacing one",
			currentTick: 0,
			spacing:     1,
			multiplier:  1.0,
			want:        model.TickRange{Lower: -30, Upper: 30},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeNewRange(tc.currentTick, tc.spacing, tc.multiplier)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("range mismatch: %+v != %+v", got, tc.want)
			}
		})
	}
}

func TestComputeNewRangeAlignment(t *testing.T) {
	spacings := []int{1, 10, 50, 60, 100, 200}
	ticks := []int{-887200, -196320, -30, -1, 0, 1, 29, 887000}
	multipliers := []float64{0.5, 1.0, 2.6, 10.0}

	for _, spacing := range spacings {
		for _, tick := range ticks {
			for _, mult := range multipliers {
				r, err := ComputeNewRange(tick, spacing, mult)
				if err != nil {
					t.Fatalf("spacing=%d tick=%d mult=%v: %v", spacing, tick, mult, err)
				}
				if r.Lower%spacing != 0 || r.Upper%spacing != 0 {
					t.Fatalf("spacing=%d tick=%d mult=%v: unaligned range %+v", spacing, tick, mult, r)
				}
				if r.Lower >= r.Upper {
					t.Fatalf("spacing=%d tick=%d mult=%v: empty range %+v", spacing, tick, mult, r)
				}
				if tick < r.Lower || tick > r.Upper {
					t.Fatalf("spacing=%d tick=%d mult=%v: range %+v does not cover tick", spacing, tick, mult, r)
				}
			}
		}
	}
}

func TestComputeNewRangeInvalid(t *testing.T) {
	if _, err := ComputeNewRange(0, 0, 1.0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for zero spacing, got %v", err)
	}
	if _, err := ComputeNewRange(0, 10, 0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for zero multiplier, got %v", err)
	}
}

func TestAlignToSpacing(t *testing.T) {
	cases := []struct {
		tick    int
		spacing int
		mode    AlignMode
		want    int
	}{
		{tick: 105, spacing: 10, mode: AlignFloor, want: 100},
		{tick: 105, spacing: 10, mode: AlignCeil, want: 110},
		{tick: -105, spacing: 10, mode: AlignFloor, want: -110},
		{tick: -105, spacing: 10, mode: AlignCeil, want: -100},
		{tick: 100, spacing: 10, mode: AlignFloor, want: 100},
		{tick: 100, spacing: 10, mode: AlignCeil, want: 100},
		{tick: 0, spacing: 60, mode: AlignFloor, want: 0},
	}

	for _, tc := range cases {
		got := AlignToSpacing(tc.tick, tc.spacing, tc.mode)
		if got != tc.want {
			t.Fatalf("align(%d, %d, %v) = %d, want %d", tc.tick, tc.spacing, tc.mode, got, tc.want)
		}
	}
}

func TestRatioForRangeBoundaries(t *testing.T) {
	below := RatioForRange(-100, 0, 1000, 18, 6)
	if !below.BelowRange || below.Token0Ratio != 1 || below.Token1Ratio != 0 {
		t.Fatalf("below range: %+v", below)
	}

	above := RatioForRange(2000, 0, 1000, 18, 6)
	if above.BelowRange || above.InRange || above.Token0Ratio != 0 || above.Token1Ratio != 1 {
		t.Fatalf("above range: %+v", above)
	}
}

func TestRatioForRangeSumsToOne(t *testing.T) {
	for tick := 10; tick < 1000; tick += 37 {
		r := RatioForRange(tick, 0, 1000, 18, 6)
		if !r.InRange {
			t.Fatalf("tick %d should be in range: %+v", tick, r)
		}
		sum := r.Token0Ratio + r.Token1Ratio
		if sum < 0.999999 || sum > 1.000001 {
			t.Fatalf("tick %d: ratios sum to %v", tick, sum)
		}
		if r.Token0Ratio < 0 || r.Token0Ratio > 1 {
			t.Fatalf("tick %d: token0 ratio %v out of [0, 1]", tick, r.Token0Ratio)
		}
	}
}

func TestRatioForRangeMonotonic(t *testing.T) {
	lower, upper := -196440, -196200
	prev := 2.0
	for tick := lower; tick <= upper; tick += 20 {
		r := RatioForRange(tick, lower, upper, 18, 6)
		if r.Token0Ratio > prev {
			t.Fatalf("token0 ratio increased at tick %d: %v > %v", tick, r.Token0Ratio, prev)
		}
		prev = r.Token0Ratio
	}
}

func TestSqrtRatioAtTickKnownValues(t *testing.T) {
	// sqrt(1.0001^0) * 2^96
	got := SqrtRatioAtTick(0)
	if got.Cmp(Q96) != 0 {
		t.Fatalf("tick 0: %s != %s", got.Dec(), Q96.Dec())
	}

	min := SqrtRatioAtTick(MinTick)
	if min.Dec() != "4295128739" {
		t.Fatalf("min tick sqrt ratio: %s", min.Dec())
	}
}

func TestHumanPrice(t *testing.T) {
	// Equal decimals at tick 0 price exactly 1.
	if got := HumanPrice(0, 18, 18); got != 1 {
		t.Fatalf("tick 0 equal decimals: %v", got)
	}

	// Decimal shift dominates: 18/6 decimals at tick 0 is 1e12.
	got := HumanPrice(0, 18, 6)
	if got < 0.999e12 || got > 1.001e12 {
		t.Fatalf("decimal shift price: %v", got)
	}
}
