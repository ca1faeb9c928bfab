package model

// RatioResult is the value split a tick range demands at the current price.
// Ratios are value fractions in [0, 1] and sum to 1.
type RatioResult struct {
	Token0Ratio float64
	Token1Ratio float64
	InRange     bool
	BelowRange  bool
}

// AboveRange reports whether the current tick sits above the range, meaning
// the position would hold only token1.
func (r RatioResult) AboveRange() bool {
	return !r.InRange && !r.BelowRange
}
