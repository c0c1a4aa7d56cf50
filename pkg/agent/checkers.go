package agent

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DeviationThresholds configure when a new observation differs enough from the last
// submission to start a round.
type DeviationThresholds struct {
	Rel float64 // percent: 100*|new-old|/|old| >= Rel
	Abs float64 // |new-old| > Abs
}

// DeviationChecker decides whether an observation moved far enough.
type DeviationChecker struct {
	Thresholds DeviationThresholds
}

// NewDeviationChecker returns a checker for the given thresholds.
func NewDeviationChecker(rel, abs float64) *DeviationChecker {
	return &DeviationChecker{Thresholds: DeviationThresholds{Rel: rel, Abs: abs}}
}

// OutsideDeviation reports whether next deviates from cur by at least both thresholds.
// With both thresholds zero every observation qualifies.
func (c *DeviationChecker) OutsideDeviation(cur, next decimal.Decimal) bool {
	if c.Thresholds.Rel == 0 && c.Thresholds.Abs == 0 {
		return true
	}

	diff := cur.Sub(next).Abs()
	if !diff.GreaterThan(decimal.NewFromFloat(c.Thresholds.Abs)) {
		return false
	}
	if cur.IsZero() {
		// infinite relative deviation unless both are zero
		return !next.IsZero()
	}

	percentage := diff.Div(cur.Abs()).Mul(decimal.NewFromInt(100))
	return !percentage.LessThan(decimal.NewFromFloat(c.Thresholds.Rel))
}

// SubmissionChecker rejects values the feed would refuse.
type SubmissionChecker struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// NewSubmissionChecker returns a checker for the feed bounds [lo, hi].
func NewSubmissionChecker(lo, hi *uint256.Int) *SubmissionChecker {
	return &SubmissionChecker{
		Min: decimal.NewFromBigInt(lo.ToBig(), 0),
		Max: decimal.NewFromBigInt(hi.ToBig(), 0),
	}
}

// IsValid reports whether answer lies within the bounds.
func (c *SubmissionChecker) IsValid(answer decimal.Decimal) bool {
	return answer.GreaterThanOrEqual(c.Min) && answer.LessThanOrEqual(c.Max)
}
