package risk

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func income(balance string) entity.Income {
	return entity.Income{PersonID: "0102030405", Source: entity.SourceInternal, AverageBalance: d(balance)}
}

func expense(outstanding string, months int, installment string, delinquent, recent entity.Flag) entity.Expense {
	return entity.Expense{
		PersonID:           "0102030405",
		Source:             entity.SourceInternal,
		Product:            entity.ProductLoan,
		OutstandingBalance: d(outstanding),
		MonthsRemaining:    months,
		Installment:        d(installment),
		Delinquent:         delinquent,
		DelinquentRecent:   recent,
	}
}

func TestClassify_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		incomes  []entity.Income
		expenses []entity.Expense
		grade    Grade
		capacity string
	}{
		{
			name:     "low income no debt",
			incomes:  []entity.Income{income("300")},
			grade:    GradeC,
			capacity: "90.00",
		},
		{
			name:     "income of 500 falls in the B tier",
			incomes:  []entity.Income{income("500")},
			grade:    GradeB,
			capacity: "150.00",
		},
		{
			name:     "small outstanding against high income",
			incomes:  []entity.Income{income("3000")},
			expenses: []entity.Expense{expense("500", 0, "0", entity.No, entity.No)},
			grade:    GradeBPlus,
			capacity: "900.00",
		},
		{
			name:     "lower bound of A- tier",
			incomes:  []entity.Income{income("1000")},
			expenses: []entity.Expense{expense("0", 0, "0", entity.No, entity.No)},
			grade:    GradeAMinus,
			capacity: "300.00",
		},
		{
			name:     "delinquent with open months and affordable installments",
			incomes:  []entity.Income{income("1000")},
			expenses: []entity.Expense{expense("2000", 5, "200", entity.Yes, entity.No)},
			grade:    GradeDPlus,
			capacity: "240.00",
		},
		{
			name:     "delinquent with installments above income",
			incomes:  []entity.Income{income("300")},
			expenses: []entity.Expense{expense("2000", 5, "400", entity.Yes, entity.No)},
			grade:    GradeDMinus,
			capacity: "0.00",
		},
		{
			name:     "recent delinquency with closed debt above income",
			incomes:  []entity.Income{income("300")},
			expenses: []entity.Expense{expense("800", 0, "0", entity.Yes, entity.Yes)},
			grade:    GradeEPlus,
			capacity: "90.00",
		},
		{
			name:     "delinquent without open months nor recent delinquency",
			incomes:  []entity.Income{income("300")},
			expenses: []entity.Expense{expense("800", 0, "0", entity.Yes, entity.No)},
			grade:    GradeCMinus,
			capacity: "90.00",
		},
		{
			name:     "no records at all",
			grade:    GradeCMinus,
			capacity: "0.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.incomes, tt.expenses)
			assert.Equal(t, tt.grade, res.Grade)
			assert.Truef(t, d(tt.capacity).Equal(res.Capacity), "capacity: want %s got %s", tt.capacity, res.Capacity)
		})
	}
}

func TestGradeFor_IncomeTiers(t *testing.T) {
	tiers := []struct {
		income string
		want   Grade
	}{
		{"2000.01", GradeAPlus},
		{"2000", GradeAMinus},
		{"1000", GradeAMinus},
		{"999.99", GradeB},
		{"400", GradeB},
		{"399.99", GradeC},
		{"0.01", GradeC},
		{"0", GradeCMinus},
	}
	for _, tc := range tiers {
		t.Run(tc.income, func(t *testing.T) {
			clean := GradeFor(Totals{Income: d(tc.income), Outstanding: decimal.Zero, Installments: decimal.Zero})
			assert.Equal(t, tc.want, clean)

			// installments without outstanding balance still use the tier table
			withInstallments := GradeFor(Totals{Income: d(tc.income), Outstanding: decimal.Zero, Installments: d("50"), MaxMonthsRemaining: 3})
			assert.Equal(t, tc.want, withInstallments)
		})
	}
}

func TestGradeFor_OutstandingRatios(t *testing.T) {
	base := Totals{Income: d("1000"), Installments: decimal.Zero}
	cases := []struct {
		outstanding string
		want        Grade
	}{
		{"249.99", GradeBPlus},
		{"250", GradeBMinus},
		{"499.99", GradeBMinus},
		{"500", GradeCPlus},
		{"999.99", GradeCPlus},
		{"1000", GradeCMinus},
		{"5000", GradeCMinus},
	}
	for _, tc := range cases {
		tot := base
		tot.Outstanding = d(tc.outstanding)
		assert.Equalf(t, tc.want, GradeFor(tot), "outstanding %s", tc.outstanding)
	}
}

func TestClassify_CleanGradeIgnoresExpenseCount(t *testing.T) {
	incomes := []entity.Income{income("1200")}
	var expenses []entity.Expense
	for i := 0; i < 5; i++ {
		expenses = append(expenses, expense("0", 0, "0", entity.No, entity.No))
		assert.Equal(t, GradeAMinus, Classify(incomes, expenses).Grade)
	}
}

func TestClassify_OrderIndependent(t *testing.T) {
	incomes := []entity.Income{income("350.25"), income("1200"), income("80.10")}
	expenses := []entity.Expense{
		expense("900", 12, "75.50", entity.No, entity.No),
		expense("150", 3, "40", entity.No, entity.Yes),
		expense("0", 0, "0", entity.No, entity.No),
	}
	want := Classify(incomes, expenses)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		in := append([]entity.Income(nil), incomes...)
		ex := append([]entity.Expense(nil), expenses...)
		rng.Shuffle(len(in), func(a, b int) { in[a], in[b] = in[b], in[a] })
		rng.Shuffle(len(ex), func(a, b int) { ex[a], ex[b] = ex[b], ex[a] })

		got := Classify(in, ex)
		require.Equal(t, want.Grade, got.Grade)
		require.True(t, want.Capacity.Equal(got.Capacity))
		if diff := cmp.Diff(want.Totals.String(), got.Totals.String()); diff != "" {
			t.Fatalf("totals mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestCapacity_NeverNegativeAndMonotonic(t *testing.T) {
	installments := d("700")
	prev := decimal.NewFromInt(-1)
	for i := int64(0); i <= 3000; i += 50 {
		c := Capacity(Totals{Income: decimal.NewFromInt(i), Installments: installments})
		require.False(t, c.IsNegative(), "income %d", i)
		require.True(t, c.GreaterThanOrEqual(prev), "income %d", i)
		prev = c
	}
}

func TestCapacity_RoundsHalfUp(t *testing.T) {
	// 0.3 * 0.05 = 0.015 -> 0.02
	c := Capacity(Totals{Income: d("0.05"), Installments: decimal.Zero})
	assert.Equal(t, "0.02", c.StringFixed(2))

	// 0.3 * 333.35 = 100.005 -> 100.01
	c = Capacity(Totals{Income: d("333.35"), Installments: decimal.Zero})
	assert.Equal(t, "100.01", c.StringFixed(2))
}

func TestGrade_Rank(t *testing.T) {
	assert.Less(t, GradeAPlus.Rank(), GradeB.Rank())
	assert.Less(t, GradeDPlus.Rank(), GradeEMinus.Rank())
	assert.Equal(t, -1, Grade("Z").Rank())
}
