// Package generator produces believable income and expense records for
// persons the bureau has no data about.
package generator

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
)

// SavingsProduct is the product name of every generated income record.
const SavingsProduct = "SAVINGS_ACCOUNT"

// productRange bounds the random draws for one expense product.
type productRange struct {
	minMonths, maxMonths int
	// balance and flat installment bounds, in cents
	minBalance, maxBalance         int64
	minInstallment, maxInstallment int64
	// percentage band used by the external policy
	minShare, maxShare decimal.Decimal
}

var ranges = map[entity.ProductKind]productRange{
	entity.ProductCreditCard: {
		minMonths: 1, maxMonths: 36,
		minBalance: 100_00, maxBalance: 5_000_00,
		minInstallment: 20_00, maxInstallment: 300_00,
		minShare: decimal.RequireFromString("0.03"), maxShare: decimal.RequireFromString("0.10"),
	},
	entity.ProductLoan: {
		minMonths: 12, maxMonths: 48,
		minBalance: 1_000_00, maxBalance: 20_000_00,
		minInstallment: 50_00, maxInstallment: 800_00,
		minShare: decimal.RequireFromString("0.70"), maxShare: decimal.RequireFromString("1.00"),
	},
}

const (
	minIncomeCents  = 200_00
	maxIncomeCents  = 3_000_00
	minRegisterDays = 14
	maxRegisterDays = 200
)

// Generator is safe for concurrent use; draws are serialized on one source.
type Generator struct {
	cfg  Config
	mu   sync.Mutex
	rand *rand.Rand
	now  func() time.Time
}

// New returns a Generator seeded from cfg.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.HomeInstitution == "" {
		cfg.HomeInstitution = def.HomeInstitution
	}
	if len(cfg.ExternalInstitutions) < 2 {
		cfg.ExternalInstitutions = def.ExternalInstitutions
	}
	if cfg.ClosedDebtChance <= 0 || cfg.ClosedDebtChance >= 1 {
		cfg.ClosedDebtChance = def.ClosedDebtChance
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
		now:  now,
	}
}

// GenerateInternal builds the home-institution records of p: one savings
// income and up to one card and one loan.
func (g *Generator) GenerateInternal(p entity.Person) ([]entity.Income, []entity.Expense) {
	g.mu.Lock()
	defer g.mu.Unlock()

	in := g.income(p, entity.SourceInternal, g.cfg.HomeInstitution, "100")
	b := budget{limit: in.AverageBalance, used: decimal.Zero}
	expenses := g.expenses(p, entity.SourceInternal, g.cfg.HomeInstitution, &b, false)
	return []entity.Income{in}, expenses
}

// GenerateExternal spreads p over two or three distinct institutions of the
// external pool, each with its own income and expense set. Installments are
// derived from the balance and the capacity guard spans all institutions.
func (g *Generator) GenerateExternal(p entity.Person) ([]entity.Income, []entity.Expense) {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := 2 + g.rand.Intn(2)
	count = min(count, len(g.cfg.ExternalInstitutions))
	perm := g.rand.Perm(len(g.cfg.ExternalInstitutions))[:count]

	incomes := make([]entity.Income, 0, count)
	b := budget{limit: decimal.Zero, used: decimal.Zero}
	for _, idx := range perm {
		in := g.income(p, entity.SourceExternal, g.cfg.ExternalInstitutions[idx], "200")
		b.limit = b.limit.Add(in.AverageBalance)
		incomes = append(incomes, in)
	}

	var expenses []entity.Expense
	for _, idx := range perm {
		expenses = append(expenses, g.expenses(p, entity.SourceExternal, g.cfg.ExternalInstitutions[idx], &b, true)...)
	}
	return incomes, expenses
}

// GenerateExpenses builds expenses for a person whose incomes are already
// stored. The installment budget is the total of those incomes. External
// expenses are placed at the institutions holding the incomes.
func (g *Generator) GenerateExpenses(p entity.Person, src entity.Source, incomes []entity.Income) []entity.Expense {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := budget{limit: decimal.Zero, used: decimal.Zero}
	var institutions []string
	seen := map[string]bool{}
	for _, in := range incomes {
		b.limit = b.limit.Add(in.AverageBalance)
		if in.Institution != "" && !seen[in.Institution] {
			seen[in.Institution] = true
			institutions = append(institutions, in.Institution)
		}
	}

	if src == entity.SourceInternal {
		return g.expenses(p, src, g.cfg.HomeInstitution, &b, false)
	}
	if len(institutions) == 0 {
		institutions = g.cfg.ExternalInstitutions[:1]
	}
	var out []entity.Expense
	for _, inst := range institutions {
		out = append(out, g.expenses(p, src, inst, &b, true)...)
	}
	return out
}

// budget tracks installments against generated income for one person.
type budget struct {
	limit decimal.Decimal
	used  decimal.Decimal
}

// take reserves amount when it fits and reports whether it did.
func (b *budget) take(amount decimal.Decimal) bool {
	next := b.used.Add(amount)
	if next.GreaterThan(b.limit) {
		return false
	}
	b.used = next
	return true
}

func (g *Generator) income(p entity.Person, src entity.Source, institution, accountPrefix string) entity.Income {
	now := g.now().UTC()
	cents := minIncomeCents + g.rand.Int63n(maxIncomeCents-minIncomeCents+1)
	days := minRegisterDays + g.rand.Intn(maxRegisterDays-minRegisterDays+1)
	return entity.Income{
		Source:         src,
		PersonID:       p.PersonID,
		FullName:       p.FullName,
		Institution:    institution,
		Product:        SavingsProduct,
		AverageBalance: decimal.New(cents, -2),
		AccountNumber:  fmt.Sprintf("%s%07d", accountPrefix, g.rand.Intn(10_000_000)),
		LastUpdated:    entity.Day(now),
		CreatedAt:      entity.Day(now.AddDate(0, 0, -days)),
		Version:        1,
	}
}

// products picks card only, loan only or both with equal odds. Cards come
// first so the capacity guard sees them before loans.
func (g *Generator) products() []entity.ProductKind {
	switch g.rand.Intn(3) {
	case 0:
		return []entity.ProductKind{entity.ProductCreditCard}
	case 1:
		return []entity.ProductKind{entity.ProductLoan}
	default:
		return []entity.ProductKind{entity.ProductCreditCard, entity.ProductLoan}
	}
}

func (g *Generator) expenses(p entity.Person, src entity.Source, institution string, b *budget, banded bool) []entity.Expense {
	now := g.now().UTC()
	kinds := g.products()
	out := make([]entity.Expense, 0, len(kinds))
	for _, kind := range kinds {
		r := ranges[kind]
		days := minRegisterDays + g.rand.Intn(maxRegisterDays-minRegisterDays+1)
		ex := entity.Expense{
			Source:             src,
			PersonID:           p.PersonID,
			FullName:           p.FullName,
			Institution:        institution,
			Product:            kind,
			OutstandingBalance: decimal.Zero,
			Installment:        decimal.Zero,
			Delinquent:         entity.No,
			DelinquentRecent:   entity.No,
			LastUpdated:        entity.Day(now),
			CreatedAt:          entity.Day(now.AddDate(0, 0, -days)),
			Version:            1,
		}

		if g.rand.Float64() >= g.cfg.ClosedDebtChance {
			months := r.minMonths + g.rand.Intn(r.maxMonths-r.minMonths+1)
			balance := decimal.New(r.minBalance+g.rand.Int63n(r.maxBalance-r.minBalance+1), -2)
			var installment decimal.Decimal
			if banded {
				installment = g.bandedInstallment(kind, r, balance, months)
			} else {
				installment = decimal.New(r.minInstallment+g.rand.Int63n(r.maxInstallment-r.minInstallment+1), -2)
			}

			if b.take(installment) {
				ex.MonthsRemaining = months
				ex.OutstandingBalance = balance
				ex.Installment = installment
				ex.Delinquent = entity.Yes
				ex.DelinquentRecent = entity.Flag(g.rand.Intn(2) == 1)
			}
		}
		out = append(out, ex)
	}
	return out
}

// bandedInstallment derives an installment from the balance: cards pay a
// share of the balance, loans a share of the straight-line installment.
func (g *Generator) bandedInstallment(kind entity.ProductKind, r productRange, balance decimal.Decimal, months int) decimal.Decimal {
	share := r.minShare.Add(r.maxShare.Sub(r.minShare).Mul(decimal.NewFromFloat(g.rand.Float64())))
	base := balance
	if kind == entity.ProductLoan {
		base = balance.Div(decimal.NewFromInt(int64(months)))
	}
	return base.Mul(share).Round(2)
}
