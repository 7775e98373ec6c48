package repo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
	"github.com/ovaphlow/pitchfork/service-buro/pkg/utilities"
)

// MemoryStore keeps records in process. Writers are serialized by a single
// mutex and work on a copy that replaces the live data only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	data  memData
	newID func() (int64, error)
}

type memData struct {
	incomes  map[entity.Source][]entity.Income
	expenses map[entity.Source][]entity.Expense
}

func (d memData) clone() memData {
	out := memData{
		incomes:  make(map[entity.Source][]entity.Income, len(d.incomes)),
		expenses: make(map[entity.Source][]entity.Expense, len(d.expenses)),
	}
	for src, rows := range d.incomes {
		out.incomes[src] = slices.Clone(rows)
	}
	for src, rows := range d.expenses {
		out.expenses[src] = slices.Clone(rows)
	}
	return out
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: memData{
			incomes:  map[entity.Source][]entity.Income{},
			expenses: map[entity.Source][]entity.Expense{},
		},
		newID: utilities.NewSnowflakeID,
	}
}

func (s *MemoryStore) ReadTx(ctx context.Context, fn func(Records) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memRecords{data: &s.data, readOnly: true, newID: s.newID})
}

func (s *MemoryStore) WriteTx(ctx context.Context, fn func(Records) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&memRecords{data: &work, newID: s.newID}); err != nil {
		return err
	}
	s.data = work
	return nil
}

type memRecords struct {
	data     *memData
	readOnly bool
	newID    func() (int64, error)
}

// LockPerson is a no-op: the write transaction already holds the store lock.
func (r *memRecords) LockPerson(ctx context.Context, personID string) error {
	if r.readOnly {
		return ErrReadOnly
	}
	return ctx.Err()
}

func (r *memRecords) IncomesByPerson(ctx context.Context, src entity.Source, personID string) ([]entity.Income, error) {
	var out []entity.Income
	for _, in := range r.data.incomes[src] {
		if in.PersonID == personID {
			out = append(out, in)
		}
	}
	return out, ctx.Err()
}

func (r *memRecords) ExpensesByPerson(ctx context.Context, src entity.Source, personID string) ([]entity.Expense, error) {
	var out []entity.Expense
	for _, ex := range r.data.expenses[src] {
		if ex.PersonID == personID {
			out = append(out, ex)
		}
	}
	return out, ctx.Err()
}

func (r *memRecords) AllIncomes(ctx context.Context, src entity.Source) ([]entity.Income, error) {
	return slices.Clone(r.data.incomes[src]), ctx.Err()
}

func (r *memRecords) AllExpenses(ctx context.Context, src entity.Source) ([]entity.Expense, error) {
	return slices.Clone(r.data.expenses[src]), ctx.Err()
}

func (r *memRecords) SaveIncomes(ctx context.Context, incomes []entity.Income) ([]entity.Income, error) {
	if r.readOnly {
		return nil, ErrReadOnly
	}
	out := make([]entity.Income, 0, len(incomes))
	for _, in := range incomes {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		id, err := r.newID()
		if err != nil {
			return nil, fmt.Errorf("new id: %w", err)
		}
		in.ID = id
		if in.Version == 0 {
			in.Version = 1
		}
		r.data.incomes[in.Source] = append(r.data.incomes[in.Source], in)
		out = append(out, in)
	}
	return out, ctx.Err()
}

func (r *memRecords) SaveExpenses(ctx context.Context, expenses []entity.Expense) ([]entity.Expense, error) {
	if r.readOnly {
		return nil, ErrReadOnly
	}
	out := make([]entity.Expense, 0, len(expenses))
	for _, ex := range expenses {
		if err := ex.Validate(); err != nil {
			return nil, err
		}
		id, err := r.newID()
		if err != nil {
			return nil, fmt.Errorf("new id: %w", err)
		}
		ex.ID = id
		if ex.Version == 0 {
			ex.Version = 1
		}
		r.data.expenses[ex.Source] = append(r.data.expenses[ex.Source], ex)
		out = append(out, ex)
	}
	return out, ctx.Err()
}

func (r *memRecords) ExpenseExists(ctx context.Context, src entity.Source, key entity.DedupKey) (bool, error) {
	for _, ex := range r.data.expenses[src] {
		if key.Matches(ex) {
			return true, ctx.Err()
		}
	}
	return false, ctx.Err()
}

func (r *memRecords) ReplaceIncome(ctx context.Context, in entity.Income, expectedVersion int64) (entity.Income, error) {
	if r.readOnly {
		return entity.Income{}, ErrReadOnly
	}
	if err := in.Validate(); err != nil {
		return entity.Income{}, err
	}
	rows := r.data.incomes[in.Source]
	i := slices.IndexFunc(rows, func(x entity.Income) bool { return x.ID == in.ID })
	if i < 0 {
		return entity.Income{}, ErrNotFound
	}
	if rows[i].Version != expectedVersion {
		return entity.Income{}, ErrVersionConflict
	}
	in.Version = expectedVersion + 1
	rows[i] = in
	return in, ctx.Err()
}

func (r *memRecords) ReplaceExpense(ctx context.Context, ex entity.Expense, expectedVersion int64) (entity.Expense, error) {
	if r.readOnly {
		return entity.Expense{}, ErrReadOnly
	}
	if err := ex.Validate(); err != nil {
		return entity.Expense{}, err
	}
	rows := r.data.expenses[ex.Source]
	i := slices.IndexFunc(rows, func(x entity.Expense) bool { return x.ID == ex.ID })
	if i < 0 {
		return entity.Expense{}, ErrNotFound
	}
	if rows[i].Version != expectedVersion {
		return entity.Expense{}, ErrVersionConflict
	}
	ex.Version = expectedVersion + 1
	rows[i] = ex
	return ex, ctx.Err()
}

// String summarizes the collection sizes, handy in test failures.
func (s *MemoryStore) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	for _, src := range []entity.Source{entity.SourceInternal, entity.SourceExternal} {
		fmt.Fprintf(&b, "%s: %d incomes, %d expenses; ", src, len(s.data.incomes[src]), len(s.data.expenses[src]))
	}
	return strings.TrimSuffix(b.String(), "; ")
}
