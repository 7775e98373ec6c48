// Package risk turns a person's income and expense records into a letter
// grade and a monthly payment capacity.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
)

var (
	capacityShare = decimal.RequireFromString("0.3")
	quarter       = decimal.RequireFromString("0.25")
	half          = decimal.RequireFromString("0.5")
	two           = decimal.NewFromInt(2)

	tierTop    = decimal.NewFromInt(2000)
	tierHigh   = decimal.NewFromInt(1000)
	tierMiddle = decimal.NewFromInt(400)
)

// longTermMonths is the horizon after which an outstanding debt counts as long term.
const longTermMonths = 24

// Totals are the aggregates the decision table is evaluated on.
type Totals struct {
	Income               decimal.Decimal `json:"income"`
	Outstanding          decimal.Decimal `json:"outstanding"`
	Installments         decimal.Decimal `json:"installments"`
	MaxMonthsRemaining   int             `json:"max_months_remaining"`
	HasDelinquency       bool            `json:"has_delinquency"`
	HasRecentDelinquency bool            `json:"has_recent_delinquency"`
}

// Result is the outcome of Classify.
type Result struct {
	Grade    Grade           `json:"grade"`
	Capacity decimal.Decimal `json:"capacity"`
	Totals   Totals          `json:"totals"`
}

// Aggregate sums the records. Record order does not matter.
func Aggregate(incomes []entity.Income, expenses []entity.Expense) Totals {
	t := Totals{
		Income:       decimal.Zero,
		Outstanding:  decimal.Zero,
		Installments: decimal.Zero,
	}
	for _, in := range incomes {
		t.Income = t.Income.Add(in.AverageBalance)
	}
	for _, ex := range expenses {
		t.Outstanding = t.Outstanding.Add(ex.OutstandingBalance)
		t.Installments = t.Installments.Add(ex.Installment)
		t.MaxMonthsRemaining = max(t.MaxMonthsRemaining, ex.MonthsRemaining)
		if ex.Delinquent {
			t.HasDelinquency = true
		}
		if ex.DelinquentRecent {
			t.HasRecentDelinquency = true
		}
	}
	return t
}

// Classify grades the combined records and computes the payment capacity.
func Classify(incomes []entity.Income, expenses []entity.Expense) Result {
	t := Aggregate(incomes, expenses)
	return Result{Grade: GradeFor(t), Capacity: Capacity(t), Totals: t}
}

// GradeFor evaluates the decision table top to bottom; the first match wins.
// Ratio tiers are inclusive on the lower bound and exclusive on the upper one.
//
// A non delinquent profile always resolves in the first block, so the
// recent-delinquency rules only apply to delinquent profiles with no open
// months. E- needs more than 24 open months, so it never matches there.
func GradeFor(t Totals) Grade {
	income, outstanding := t.Income, t.Outstanding

	if !t.HasDelinquency {
		switch {
		case outstanding.IsZero():
			// clean and debt free profiles share the income tiers
			return incomeTier(income)
		case outstanding.LessThan(income.Mul(quarter)):
			return GradeBPlus
		case outstanding.LessThan(income.Mul(half)):
			return GradeBMinus
		case outstanding.LessThan(income):
			return GradeCPlus
		default:
			return GradeCMinus
		}
	}

	switch {
	case t.MaxMonthsRemaining > 0 && t.Installments.LessThanOrEqual(income):
		return GradeDPlus
	case t.MaxMonthsRemaining > 0:
		return GradeDMinus
	case t.HasRecentDelinquency && outstanding.GreaterThan(income):
		return GradeEPlus
	case t.HasRecentDelinquency && outstanding.GreaterThan(income.Mul(two)) && t.MaxMonthsRemaining > longTermMonths:
		return GradeEMinus
	}
	return GradeCMinus
}

func incomeTier(income decimal.Decimal) Grade {
	switch {
	case income.GreaterThan(tierTop):
		return GradeAPlus
	case income.GreaterThanOrEqual(tierHigh):
		return GradeAMinus
	case income.GreaterThanOrEqual(tierMiddle):
		return GradeB
	case income.IsPositive():
		return GradeC
	default:
		return GradeCMinus
	}
}

// Capacity is 30% of the income left after installments, never negative,
// rounded half-up to cents.
func Capacity(t Totals) decimal.Decimal {
	free := t.Income.Sub(t.Installments)
	if free.IsNegative() {
		free = decimal.Zero
	}
	return free.Mul(capacityShare).Round(2)
}

func (t Totals) String() string {
	return "income=" + t.Income.String() +
		" outstanding=" + t.Outstanding.String() +
		" installments=" + t.Installments.String()
}
