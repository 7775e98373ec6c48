// Package bureau scores persons from their internal and external financial
// records and keeps both record sources in step.
package bureau

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/repo"
	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/risk"
	"github.com/ovaphlow/pitchfork/service-buro/pkg/utilities"
)

// Directory lists the persons known to the core.
type Directory interface {
	ListByEntityType(ctx context.Context, entityType string) ([]entity.Person, error)
}

// Generator fabricates records for persons without data.
type Generator interface {
	GenerateInternal(p entity.Person) ([]entity.Income, []entity.Expense)
	GenerateExternal(p entity.Person) ([]entity.Income, []entity.Expense)
	// GenerateExpenses sizes installments against incomes already stored.
	GenerateExpenses(p entity.Person, src entity.Source, incomes []entity.Income) []entity.Expense
}

// sentinel errors for common failure modes
var (
	ErrPersonNotFound      = errors.New("person not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrRecordNotFound      = errors.New("record not found")
	ErrVersionConflict     = errors.New("version conflict")
)

// Service orchestrates queries, synchronization and reconciliation.
type Service struct {
	store  repo.Store
	dir    Directory
	gen    Generator
	probes []Probe
	logger *zap.SugaredLogger
	// collapses concurrent population runs for the same person
	group singleflight.Group
}

// NewService wires a Service. An empty probe list falls back to DefaultProbes.
func NewService(store repo.Store, dir Directory, gen Generator, probes []Probe, logger *zap.SugaredLogger) *Service {
	if len(probes) == 0 {
		probes = DefaultProbes()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, dir: dir, gen: gen, probes: probes, logger: logger}
}

// Query scores personID from the first probe that holds any record for it.
// Only the arrays of the answering source are filled.
func (s *Service) Query(ctx context.Context, personID string) (*entity.Assessment, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrPersonNotFound)
	}

	var out *entity.Assessment
	err := s.store.ReadTx(ctx, func(r repo.Records) error {
		for _, p := range s.probes {
			incomes, expenses, err := s.load(ctx, r, p, personID)
			if err != nil {
				return err
			}
			if len(incomes) == 0 && len(expenses) == 0 {
				continue
			}
			out = assess(personID, p, incomes, expenses)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrPersonNotFound, personID)
	})
	if err != nil {
		if !errors.Is(err, ErrPersonNotFound) {
			s.storeFailure("query", personID, err)
		}
		return nil, err
	}
	s.logger.Infow("bureau query", "person_id", personID, "source", out.Source, "grade", out.RiskGrade)
	return out, nil
}

func (s *Service) load(ctx context.Context, r repo.Records, p Probe, personID string) ([]entity.Income, []entity.Expense, error) {
	incomes, err := r.IncomesByPerson(ctx, p.Source, personID)
	if err != nil {
		return nil, nil, err
	}
	expenses, err := r.ExpensesByPerson(ctx, p.Source, personID)
	if err != nil {
		return nil, nil, err
	}
	if p.Institution == "" {
		return incomes, expenses, nil
	}
	var in []entity.Income
	for _, x := range incomes {
		if p.accepts(x.Institution) {
			in = append(in, x)
		}
	}
	var ex []entity.Expense
	for _, x := range expenses {
		if p.accepts(x.Institution) {
			ex = append(ex, x)
		}
	}
	return in, ex, nil
}

func assess(personID string, p Probe, incomes []entity.Income, expenses []entity.Expense) *entity.Assessment {
	res := risk.Classify(incomes, expenses)
	a := &entity.Assessment{
		PersonID:         personID,
		FullName:         fullName(incomes, expenses),
		Source:           p.Source,
		Institution:      p.Institution,
		InternalIncomes:  []entity.Income{},
		InternalExpenses: []entity.Expense{},
		ExternalIncomes:  []entity.Income{},
		ExternalExpenses: []entity.Expense{},
		RiskGrade:        res.Grade.String(),
		PaymentCapacity:  res.Capacity,
	}
	if p.Source == entity.SourceInternal {
		a.InternalIncomes = append(a.InternalIncomes, incomes...)
		a.InternalExpenses = append(a.InternalExpenses, expenses...)
	} else {
		a.ExternalIncomes = append(a.ExternalIncomes, incomes...)
		a.ExternalExpenses = append(a.ExternalExpenses, expenses...)
	}
	return a
}

func fullName(incomes []entity.Income, expenses []entity.Expense) string {
	for _, in := range incomes {
		if in.FullName != "" {
			return in.FullName
		}
	}
	for _, ex := range expenses {
		if ex.FullName != "" {
			return ex.FullName
		}
	}
	return ""
}

// persons fetches the PERSONA entries of the directory.
func (s *Service) persons(ctx context.Context) ([]entity.Person, error) {
	all, err := s.dir.ListByEntityType(ctx, entity.EntityTypePerson)
	if err != nil {
		s.logger.Errorw("upstream directory fetch failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	out := make([]entity.Person, 0, len(all))
	for _, p := range all {
		if p.EntityType == entity.EntityTypePerson && strings.TrimSpace(p.PersonID) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// CountUpstream returns how many PERSONA entries the directory holds.
func (s *Service) CountUpstream(ctx context.Context) (int, error) {
	persons, err := s.persons(ctx)
	if err != nil {
		return 0, err
	}
	return len(persons), nil
}

// SyncReport summarizes a BulkSync run.
type SyncReport struct {
	RunID           string `json:"run_id"`
	Persons         int    `json:"persons"`
	Created         int    `json:"created"`
	AlreadyPresent  int    `json:"already_present"`
	IncomesCreated  int    `json:"incomes_created"`
	ExpensesCreated int    `json:"expenses_created"`
}

// BulkSync makes sure every directory person has internal records,
// generating them where missing. Each person commits on its own; the first
// failure stops the run and is returned with the counts so far.
func (s *Service) BulkSync(ctx context.Context) (SyncReport, error) {
	report := SyncReport{RunID: utilities.NewKSUID()}
	persons, err := s.persons(ctx)
	if err != nil {
		return report, err
	}
	report.Persons = len(persons)
	s.logger.Infow("bulk sync started", "run_id", report.RunID, "persons", len(persons))

	for _, p := range persons {
		res, err := s.ensure(ctx, p, entity.SourceInternal)
		if err != nil {
			s.storeFailure("bulk_sync", p.PersonID, err)
			return report, err
		}
		report.IncomesCreated += res.incomes
		report.ExpensesCreated += res.expenses
		if res.created() {
			report.Created++
		} else {
			report.AlreadyPresent++
		}
	}
	s.logger.Infow("bulk sync finished", "run_id", report.RunID, "created", report.Created, "already_present", report.AlreadyPresent)
	return report, nil
}

type ensureResult struct {
	incomes  int
	expenses int
}

func (r ensureResult) created() bool { return r.incomes > 0 || r.expenses > 0 }

// ensure populates the empty collections of p for src in one transaction
// holding the person lock. Concurrent callers for the same person and
// source share a single run, which is detached from the cancellation of
// the caller that started it. When incomes are already stored only the
// expenses are generated, sized against those incomes.
func (s *Service) ensure(ctx context.Context, p entity.Person, src entity.Source) (ensureResult, error) {
	ran := false
	v, err, _ := s.group.Do(string(src)+"/"+p.PersonID, func() (any, error) {
		ran = true
		ctx := context.WithoutCancel(ctx)
		var res ensureResult
		err := s.store.WriteTx(ctx, func(r repo.Records) error {
			if err := r.LockPerson(ctx, p.PersonID); err != nil {
				return err
			}
			incomes, err := r.IncomesByPerson(ctx, src, p.PersonID)
			if err != nil {
				return err
			}
			expenses, err := r.ExpensesByPerson(ctx, src, p.PersonID)
			if err != nil {
				return err
			}
			if len(incomes) > 0 && len(expenses) > 0 {
				return nil
			}

			var genIn []entity.Income
			var genEx []entity.Expense
			switch {
			case len(incomes) > 0:
				genEx = s.gen.GenerateExpenses(p, src, incomes)
			case src == entity.SourceInternal:
				genIn, genEx = s.gen.GenerateInternal(p)
			default:
				genIn, genEx = s.gen.GenerateExternal(p)
			}
			if len(incomes) == 0 {
				saved, err := r.SaveIncomes(ctx, genIn)
				if err != nil {
					return err
				}
				res.incomes = len(saved)
			}
			if len(expenses) == 0 {
				saved, err := r.SaveExpenses(ctx, genEx)
				if err != nil {
					return err
				}
				res.expenses = len(saved)
			}
			return nil
		})
		return res, err
	})
	if err != nil {
		return ensureResult{}, err
	}
	if !ran {
		// only the caller that ran the transaction reports the creations
		return ensureResult{}, nil
	}
	return v.(ensureResult), nil
}

// GenerateMock fills every empty collection of a directory person with
// synthetic records and scores the combined internal and external data.
func (s *Service) GenerateMock(ctx context.Context, personID string) (*entity.Assessment, error) {
	personID = strings.TrimSpace(personID)
	persons, err := s.persons(ctx)
	if err != nil {
		return nil, err
	}
	var person *entity.Person
	for i := range persons {
		if persons[i].PersonID == personID {
			person = &persons[i]
			break
		}
	}
	if person == nil {
		s.logger.Warnw("person not in directory", "person_id", personID)
		return nil, fmt.Errorf("%w: %s", ErrPersonNotFound, personID)
	}

	for _, src := range []entity.Source{entity.SourceInternal, entity.SourceExternal} {
		res, err := s.ensure(ctx, *person, src)
		if err != nil {
			s.storeFailure("generate_mock", personID, err)
			return nil, err
		}
		if res.created() {
			s.logger.Infow("mock records generated", "person_id", personID, "source", src,
				"incomes", res.incomes, "expenses", res.expenses)
		}
	}

	a := &entity.Assessment{PersonID: personID, FullName: person.FullName}
	err = s.store.ReadTx(ctx, func(r repo.Records) error {
		var err error
		if a.InternalIncomes, err = r.IncomesByPerson(ctx, entity.SourceInternal, personID); err != nil {
			return err
		}
		if a.InternalExpenses, err = r.ExpensesByPerson(ctx, entity.SourceInternal, personID); err != nil {
			return err
		}
		if a.ExternalIncomes, err = r.IncomesByPerson(ctx, entity.SourceExternal, personID); err != nil {
			return err
		}
		a.ExternalExpenses, err = r.ExpensesByPerson(ctx, entity.SourceExternal, personID)
		return err
	})
	if err != nil {
		s.storeFailure("generate_mock", personID, err)
		return nil, err
	}
	res := risk.Classify(
		append(append([]entity.Income{}, a.InternalIncomes...), a.ExternalIncomes...),
		append(append([]entity.Expense{}, a.InternalExpenses...), a.ExternalExpenses...),
	)
	a.RiskGrade = res.Grade.String()
	a.PaymentCapacity = res.Capacity
	return a, nil
}

// ReconcileReport counts what a Reconcile run copied and skipped.
type ReconcileReport struct {
	IncomesCreated  int `json:"incomes_created"`
	IncomesSkipped  int `json:"incomes_skipped"`
	ExpensesCreated int `json:"expenses_created"`
	ExpensesSkipped int `json:"expenses_skipped"`
}

// Reconcile mirrors internal records into the external collections.
// Incomes of a person are copied only while that person has no external
// income at all; an expense is copied unless an external expense with the
// same dedup key exists. The whole run is one transaction.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.store.WriteTx(ctx, func(r repo.Records) error {
		report = ReconcileReport{}
		incomes, err := r.AllIncomes(ctx, entity.SourceInternal)
		if err != nil {
			return err
		}
		expenses, err := r.AllExpenses(ctx, entity.SourceInternal)
		if err != nil {
			return err
		}

		incomesByPerson := map[string][]entity.Income{}
		expensesByPerson := map[string][]entity.Expense{}
		for _, in := range incomes {
			incomesByPerson[in.PersonID] = append(incomesByPerson[in.PersonID], in)
		}
		for _, ex := range expenses {
			expensesByPerson[ex.PersonID] = append(expensesByPerson[ex.PersonID], ex)
		}

		for _, personID := range personIDs(incomesByPerson, expensesByPerson) {
			if err := r.LockPerson(ctx, personID); err != nil {
				return err
			}
			if err := s.reconcileIncomes(ctx, r, personID, incomesByPerson[personID], &report); err != nil {
				return err
			}
			if err := s.reconcileExpenses(ctx, r, expensesByPerson[personID], &report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.storeFailure("reconcile", "", err)
		return ReconcileReport{}, err
	}
	s.logger.Infow("reconciliation finished",
		"incomes_created", report.IncomesCreated, "incomes_skipped", report.IncomesSkipped,
		"expenses_created", report.ExpensesCreated, "expenses_skipped", report.ExpensesSkipped)
	return report, nil
}

func (s *Service) reconcileIncomes(ctx context.Context, r repo.Records, personID string, internal []entity.Income, report *ReconcileReport) error {
	if len(internal) == 0 {
		return nil
	}
	existing, err := r.IncomesByPerson(ctx, entity.SourceExternal, personID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		report.IncomesSkipped += len(internal)
		return nil
	}
	copies := make([]entity.Income, 0, len(internal))
	for _, in := range internal {
		in.ID = 0
		in.Source = entity.SourceExternal
		in.Version = 1
		copies = append(copies, in)
	}
	saved, err := r.SaveIncomes(ctx, copies)
	if err != nil {
		return err
	}
	report.IncomesCreated += len(saved)
	return nil
}

// reconcileExpenses saves copies one by one so a later internal record with
// the same key matches the copy just made.
func (s *Service) reconcileExpenses(ctx context.Context, r repo.Records, internal []entity.Expense, report *ReconcileReport) error {
	for _, ex := range internal {
		exists, err := r.ExpenseExists(ctx, entity.SourceExternal, ex.Key())
		if err != nil {
			return err
		}
		if exists {
			report.ExpensesSkipped++
			continue
		}
		ex.ID = 0
		ex.Source = entity.SourceExternal
		ex.Version = 1
		if _, err := r.SaveExpenses(ctx, []entity.Expense{ex}); err != nil {
			return err
		}
		report.ExpensesCreated++
	}
	return nil
}

// personIDs returns the union of keys in a stable order, which also keeps
// the advisory locks of concurrent runs in the same order.
func personIDs(incomes map[string][]entity.Income, expenses map[string][]entity.Expense) []string {
	seen := make(map[string]struct{}, len(incomes)+len(expenses))
	for id := range incomes {
		seen[id] = struct{}{}
	}
	for id := range expenses {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReplaceIncome overwrites a stored income. in.Version must carry the
// version the caller read; the stored copy gets the next one. The record
// must already belong to in.PersonID, so a replace never moves a record
// to another person.
func (s *Service) ReplaceIncome(ctx context.Context, in entity.Income) (entity.Income, error) {
	if err := in.Validate(); err != nil {
		return entity.Income{}, err
	}
	var out entity.Income
	err := s.store.WriteTx(ctx, func(r repo.Records) error {
		if err := r.LockPerson(ctx, in.PersonID); err != nil {
			return err
		}
		owned, err := r.IncomesByPerson(ctx, in.Source, in.PersonID)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(owned, func(x entity.Income) bool { return x.ID == in.ID }) {
			return fmt.Errorf("%w: income %d of %s", repo.ErrNotFound, in.ID, in.PersonID)
		}
		out, err = r.ReplaceIncome(ctx, in, in.Version)
		return err
	})
	if err != nil {
		return entity.Income{}, s.replaceError("replace_income", in.PersonID, err)
	}
	return out, nil
}

// ReplaceExpense is the expense counterpart of ReplaceIncome.
func (s *Service) ReplaceExpense(ctx context.Context, ex entity.Expense) (entity.Expense, error) {
	if err := ex.Validate(); err != nil {
		return entity.Expense{}, err
	}
	var out entity.Expense
	err := s.store.WriteTx(ctx, func(r repo.Records) error {
		if err := r.LockPerson(ctx, ex.PersonID); err != nil {
			return err
		}
		owned, err := r.ExpensesByPerson(ctx, ex.Source, ex.PersonID)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(owned, func(x entity.Expense) bool { return x.ID == ex.ID }) {
			return fmt.Errorf("%w: expense %d of %s", repo.ErrNotFound, ex.ID, ex.PersonID)
		}
		out, err = r.ReplaceExpense(ctx, ex, ex.Version)
		return err
	})
	if err != nil {
		return entity.Expense{}, s.replaceError("replace_expense", ex.PersonID, err)
	}
	return out, nil
}

func (s *Service) replaceError(op, personID string, err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrRecordNotFound, err)
	case errors.Is(err, repo.ErrVersionConflict):
		return fmt.Errorf("%w: %w", ErrVersionConflict, err)
	case errors.Is(err, entity.ErrInvalidRecord):
		return err
	}
	s.storeFailure(op, personID, err)
	return err
}

// storeFailure logs a persistence error with its context. The caller still
// returns the error unchanged.
func (s *Service) storeFailure(op, personID string, err error) {
	if errors.Is(err, ErrUpstreamUnavailable) {
		return
	}
	s.logger.Errorw("store operation failed", "op", op, "person_id", personID, "err", err)
}
