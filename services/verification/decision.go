package verification

import (
	"ecorewards-engine/services/category"
)

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusVerified         Status = "VERIFIED"
	StatusRejected         Status = "REJECTED"
	StatusNeedsImprovement Status = "NEEDS_IMPROVEMENT"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected, StatusNeedsImprovement:
		return true
	}
	return false
}

// Ladder cut lines. The middle line is the rule's MinScoreThreshold.
const (
	FullCreditScore     = 80
	ReconsiderScore     = 40
	PartialCreditFactor = 0.6
)

// Score is an oracle score or the failure sentinel.
type Score struct {
	Value  int
	Failed bool
}

func ScoreOf(v int) Score {
	return Score{Value: v}
}

// OracleFailed is the score used when the oracle produced no usable result.
var OracleFailed = Score{Failed: true}

type Decision struct {
	Points int64
	Status Status
	Rule   category.Rule
	// KnownRule is false when the default rule was applied.
	KnownRule bool
}

// Decide maps a score to points and status. It is total: every score,
// including out of range ones, yields exactly one decision.
func Decide(table *category.Table, score Score, c category.Category, subcategory string) Decision {
	rule, known := table.Lookup(c, subcategory)
	d := Decision{Rule: rule, KnownRule: known}

	if score.Failed {
		d.Status = StatusNeedsImprovement
		return d
	}

	v := clamp(score.Value)
	switch {
	case v >= FullCreditScore:
		d.Points, d.Status = rule.BasePoints, StatusVerified
	case v >= rule.MinScoreThreshold:
		d.Points, d.Status = partial(rule.BasePoints), StatusVerified
	case v >= ReconsiderScore:
		d.Status = StatusNeedsImprovement
	default:
		d.Status = StatusRejected
	}

	return d
}

// partial is floor(base * 0.6) in integer arithmetic.
func partial(base int64) int64 {
	if base <= 0 {
		return 0
	}
	return base * 6 / 10
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
