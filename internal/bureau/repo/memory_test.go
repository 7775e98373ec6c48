package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
)

var today = entity.Day(time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC))

func sampleIncome(src entity.Source, personID string) entity.Income {
	return entity.Income{
		Source:         src,
		PersonID:       personID,
		FullName:       "ANA TORRES",
		Institution:    "BANCO BANQUITO",
		Product:        "SAVINGS_ACCOUNT",
		AverageBalance: decimal.RequireFromString("1250.40"),
		AccountNumber:  "1001234567",
		LastUpdated:    today,
		CreatedAt:      today.AddDate(0, 0, -30),
	}
}

func sampleExpense(src entity.Source, personID string) entity.Expense {
	return entity.Expense{
		Source:             src,
		PersonID:           personID,
		FullName:           "ANA TORRES",
		Institution:        "BANCO BANQUITO",
		Product:            entity.ProductLoan,
		OutstandingBalance: decimal.RequireFromString("5400"),
		MonthsRemaining:    18,
		Installment:        decimal.RequireFromString("320.50"),
		Delinquent:         entity.Yes,
		LastUpdated:        today,
		CreatedAt:          today.AddDate(0, 0, -60),
	}
}

func TestMemoryStore_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.WriteTx(ctx, func(r Records) error {
		saved, err := r.SaveIncomes(ctx, []entity.Income{
			sampleIncome(entity.SourceInternal, "0102030405"),
			sampleIncome(entity.SourceExternal, "0102030405"),
		})
		require.NoError(t, err)
		for _, in := range saved {
			assert.NotZero(t, in.ID)
			assert.EqualValues(t, 1, in.Version)
		}
		_, err = r.SaveExpenses(ctx, []entity.Expense{sampleExpense(entity.SourceInternal, "0102030405")})
		return err
	})
	require.NoError(t, err)

	err = s.ReadTx(ctx, func(r Records) error {
		internal, err := r.IncomesByPerson(ctx, entity.SourceInternal, "0102030405")
		require.NoError(t, err)
		assert.Len(t, internal, 1)

		external, err := r.IncomesByPerson(ctx, entity.SourceExternal, "0102030405")
		require.NoError(t, err)
		assert.Len(t, external, 1)

		none, err := r.ExpensesByPerson(ctx, entity.SourceExternal, "0102030405")
		require.NoError(t, err)
		assert.Empty(t, none)

		other, err := r.IncomesByPerson(ctx, entity.SourceInternal, "9999999999")
		require.NoError(t, err)
		assert.Empty(t, other)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_WriteTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.WriteTx(ctx, func(r Records) error {
		if _, err := r.SaveIncomes(ctx, []entity.Income{sampleIncome(entity.SourceInternal, "0102030405")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_ = s.ReadTx(ctx, func(r Records) error {
		all, err := r.AllIncomes(ctx, entity.SourceInternal)
		require.NoError(t, err)
		assert.Empty(t, all)
		return nil
	})
}

func TestMemoryStore_ReadTxRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.ReadTx(ctx, func(r Records) error {
		_, err := r.SaveIncomes(ctx, []entity.Income{sampleIncome(entity.SourceInternal, "0102030405")})
		return err
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestMemoryStore_SaveRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	bad := sampleExpense(entity.SourceInternal, "0102030405")
	bad.MonthsRemaining = -1

	err := s.WriteTx(ctx, func(r Records) error {
		_, err := r.SaveExpenses(ctx, []entity.Expense{bad})
		return err
	})
	assert.ErrorIs(t, err, entity.ErrInvalidRecord)
}

func TestMemoryStore_ExpenseExistsComparesByValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ex := sampleExpense(entity.SourceExternal, "0102030405")

	require.NoError(t, s.WriteTx(ctx, func(r Records) error {
		_, err := r.SaveExpenses(ctx, []entity.Expense{ex})
		return err
	}))

	key := ex.Key()
	key.OutstandingBalance = decimal.RequireFromString("5400.00")
	_ = s.ReadTx(ctx, func(r Records) error {
		ok, err := r.ExpenseExists(ctx, entity.SourceExternal, key)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.ExpenseExists(ctx, entity.SourceInternal, key)
		require.NoError(t, err)
		assert.False(t, ok)

		key.MonthsRemaining++
		ok, err = r.ExpenseExists(ctx, entity.SourceExternal, key)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}

func TestMemoryStore_ReplaceUsesVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var saved entity.Income
	require.NoError(t, s.WriteTx(ctx, func(r Records) error {
		out, err := r.SaveIncomes(ctx, []entity.Income{sampleIncome(entity.SourceInternal, "0102030405")})
		if err != nil {
			return err
		}
		saved = out[0]
		return nil
	}))

	update := saved
	update.AverageBalance = decimal.RequireFromString("1500")
	require.NoError(t, s.WriteTx(ctx, func(r Records) error {
		got, err := r.ReplaceIncome(ctx, update, 1)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got.Version)
		return nil
	}))

	err := s.WriteTx(ctx, func(r Records) error {
		_, err := r.ReplaceIncome(ctx, update, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	missing := update
	missing.ID = 42
	err = s.WriteTx(ctx, func(r Records) error {
		_, err := r.ReplaceIncome(ctx, missing, 2)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	err := s.ReadTx(ctx, func(Records) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
