package repo

import (
	"context"
	"errors"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrReadOnly        = errors.New("write in read-only transaction")
)

// Records is the view of the four record collections inside a transaction.
// Nothing here enforces uniqueness; callers check before inserting.
type Records interface {
	// LockPerson serializes writers working on the same person until the
	// transaction ends.
	LockPerson(ctx context.Context, personID string) error

	IncomesByPerson(ctx context.Context, src entity.Source, personID string) ([]entity.Income, error)
	ExpensesByPerson(ctx context.Context, src entity.Source, personID string) ([]entity.Expense, error)
	AllIncomes(ctx context.Context, src entity.Source) ([]entity.Income, error)
	AllExpenses(ctx context.Context, src entity.Source) ([]entity.Expense, error)

	// SaveIncomes and SaveExpenses insert new rows, routed by each record's
	// Source, and return them with ids assigned.
	SaveIncomes(ctx context.Context, incomes []entity.Income) ([]entity.Income, error)
	SaveExpenses(ctx context.Context, expenses []entity.Expense) ([]entity.Expense, error)

	ExpenseExists(ctx context.Context, src entity.Source, key entity.DedupKey) (bool, error)

	// ReplaceIncome and ReplaceExpense overwrite a whole row when its stored
	// version equals expectedVersion, bumping the version by one.
	ReplaceIncome(ctx context.Context, in entity.Income, expectedVersion int64) (entity.Income, error)
	ReplaceExpense(ctx context.Context, ex entity.Expense, expectedVersion int64) (entity.Expense, error)
}

// Store opens transactions over Records. A failing callback rolls back
// every write it made.
type Store interface {
	ReadTx(ctx context.Context, fn func(Records) error) error
	WriteTx(ctx context.Context, fn func(Records) error) error
}
