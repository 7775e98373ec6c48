package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
	"github.com/ovaphlow/pitchfork/service-buro/pkg/utilities"
)

var incomeTables = map[entity.Source]string{
	entity.SourceInternal: "internal_incomes",
	entity.SourceExternal: "external_incomes",
}

var expenseTables = map[entity.Source]string{
	entity.SourceInternal: "internal_expenses",
	entity.SourceExternal: "external_expenses",
}

const incomeColumns = `id, person_id, full_name, institution, product, average_balance,
	account_number, last_updated, created_at, version`

const expenseColumns = `id, person_id, full_name, institution, product, outstanding_balance,
	months_remaining, installment, delinquent, delinquent_recent, last_updated, created_at, version`

// PostgresStore keeps the four collections in PostgreSQL tables.
type PostgresStore struct {
	db    *sqlx.DB
	newID func() (int64, error)
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, newID: utilities.NewSnowflakeID}
}

// EnsureTables creates the record tables if they do not exist (idempotent).
// person_id is indexed, not unique.
func (s *PostgresStore) EnsureTables(ctx context.Context) error {
	for _, src := range []entity.Source{entity.SourceInternal, entity.SourceExternal} {
		in, ex := incomeTables[src], expenseTables[src]
		ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id BIGINT PRIMARY KEY,
  person_id VARCHAR(20) NOT NULL,
  full_name TEXT NOT NULL DEFAULT '',
  institution TEXT NOT NULL DEFAULT '',
  product TEXT NOT NULL DEFAULT '',
  average_balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (average_balance >= 0),
  account_number VARCHAR(32) NOT NULL DEFAULT '',
  last_updated DATE NOT NULL,
  created_at DATE NOT NULL,
  version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_person_id ON %[1]s (person_id);
CREATE TABLE IF NOT EXISTS %[2]s (
  id BIGINT PRIMARY KEY,
  person_id VARCHAR(20) NOT NULL,
  full_name TEXT NOT NULL DEFAULT '',
  institution TEXT NOT NULL DEFAULT '',
  product VARCHAR(16) NOT NULL CHECK (product IN ('LOAN', 'CREDIT_CARD')),
  outstanding_balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (outstanding_balance >= 0),
  months_remaining INT NOT NULL DEFAULT 0 CHECK (months_remaining >= 0),
  installment NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (installment >= 0),
  delinquent BOOLEAN NOT NULL DEFAULT false,
  delinquent_recent BOOLEAN NOT NULL DEFAULT false,
  last_updated DATE NOT NULL,
  created_at DATE NOT NULL,
  version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_%[2]s_person_id ON %[2]s (person_id);
`, in, ex)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s tables: %w", src, err)
		}
	}
	return nil
}

func (s *PostgresStore) ReadTx(ctx context.Context, fn func(Records) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *PostgresStore) WriteTx(ctx context.Context, fn func(Records) error) error {
	return s.run(ctx, nil, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts *sql.TxOptions, fn func(Records) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgRecords{tx: tx, newID: s.newID}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgRecords struct {
	tx    *sqlx.Tx
	newID func() (int64, error)
}

func (r *pgRecords) LockPerson(ctx context.Context, personID string) error {
	if _, err := r.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, personID); err != nil {
		return fmt.Errorf("lock person: %w", classify(err))
	}
	return nil
}

func (r *pgRecords) IncomesByPerson(ctx context.Context, src entity.Source, personID string) ([]entity.Income, error) {
	table, err := incomeTable(src)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + incomeColumns + ` FROM ` + table + ` WHERE person_id = $1 ORDER BY id`
	return r.selectIncomes(ctx, src, q, personID)
}

func (r *pgRecords) AllIncomes(ctx context.Context, src entity.Source) ([]entity.Income, error) {
	table, err := incomeTable(src)
	if err != nil {
		return nil, err
	}
	return r.selectIncomes(ctx, src, `SELECT `+incomeColumns+` FROM `+table+` ORDER BY id`)
}

func (r *pgRecords) selectIncomes(ctx context.Context, src entity.Source, q string, args ...any) ([]entity.Income, error) {
	var rows []entity.Income
	if err := r.tx.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", incomeTables[src], classify(err))
	}
	for i := range rows {
		rows[i].Source = src
	}
	return rows, nil
}

func (r *pgRecords) ExpensesByPerson(ctx context.Context, src entity.Source, personID string) ([]entity.Expense, error) {
	table, err := expenseTable(src)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + expenseColumns + ` FROM ` + table + ` WHERE person_id = $1 ORDER BY id`
	return r.selectExpenses(ctx, src, q, personID)
}

func (r *pgRecords) AllExpenses(ctx context.Context, src entity.Source) ([]entity.Expense, error) {
	table, err := expenseTable(src)
	if err != nil {
		return nil, err
	}
	return r.selectExpenses(ctx, src, `SELECT `+expenseColumns+` FROM `+table+` ORDER BY id`)
}

func (r *pgRecords) selectExpenses(ctx context.Context, src entity.Source, q string, args ...any) ([]entity.Expense, error) {
	var rows []entity.Expense
	if err := r.tx.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", expenseTables[src], classify(err))
	}
	for i := range rows {
		rows[i].Source = src
	}
	return rows, nil
}

func (r *pgRecords) SaveIncomes(ctx context.Context, incomes []entity.Income) ([]entity.Income, error) {
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
		q := `INSERT INTO ` + incomeTables[in.Source] + ` (` + incomeColumns + `)
			VALUES (:id, :person_id, :full_name, :institution, :product, :average_balance,
				:account_number, :last_updated, :created_at, :version)`
		if _, err := r.tx.NamedExecContext(ctx, q, in); err != nil {
			return nil, fmt.Errorf("insert %s: %w", incomeTables[in.Source], classify(err))
		}
		out = append(out, in)
	}
	return out, nil
}

func (r *pgRecords) SaveExpenses(ctx context.Context, expenses []entity.Expense) ([]entity.Expense, error) {
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
		q := `INSERT INTO ` + expenseTables[ex.Source] + ` (` + expenseColumns + `)
			VALUES (:id, :person_id, :full_name, :institution, :product, :outstanding_balance,
				:months_remaining, :installment, :delinquent, :delinquent_recent,
				:last_updated, :created_at, :version)`
		if _, err := r.tx.NamedExecContext(ctx, q, ex); err != nil {
			return nil, fmt.Errorf("insert %s: %w", expenseTables[ex.Source], classify(err))
		}
		out = append(out, ex)
	}
	return out, nil
}

func (r *pgRecords) ExpenseExists(ctx context.Context, src entity.Source, key entity.DedupKey) (bool, error) {
	table, err := expenseTable(src)
	if err != nil {
		return false, err
	}
	q := `SELECT EXISTS (SELECT 1 FROM ` + table + `
		WHERE person_id = $1 AND product = $2 AND outstanding_balance = $3
		  AND months_remaining = $4 AND installment = $5)`
	var exists bool
	err = r.tx.GetContext(ctx, &exists, q, key.PersonID, string(key.Product), key.OutstandingBalance, key.MonthsRemaining, key.Installment)
	if err != nil {
		return false, fmt.Errorf("match %s: %w", table, classify(err))
	}
	return exists, nil
}

func (r *pgRecords) ReplaceIncome(ctx context.Context, in entity.Income, expectedVersion int64) (entity.Income, error) {
	if err := in.Validate(); err != nil {
		return entity.Income{}, err
	}
	table := incomeTables[in.Source]
	in.Version = expectedVersion + 1
	q := `UPDATE ` + table + ` SET person_id = :person_id, full_name = :full_name,
			institution = :institution, product = :product, average_balance = :average_balance,
			account_number = :account_number, last_updated = :last_updated,
			created_at = :created_at, version = :version
		WHERE id = :id AND version = :expected_version`
	res, err := r.tx.NamedExecContext(ctx, q, struct {
		entity.Income
		ExpectedVersion int64 `db:"expected_version"`
	}{in, expectedVersion})
	if err != nil {
		return entity.Income{}, fmt.Errorf("update %s: %w", table, classify(err))
	}
	if err := r.checkReplaced(ctx, res, table, in.ID); err != nil {
		return entity.Income{}, err
	}
	return in, nil
}

func (r *pgRecords) ReplaceExpense(ctx context.Context, ex entity.Expense, expectedVersion int64) (entity.Expense, error) {
	if err := ex.Validate(); err != nil {
		return entity.Expense{}, err
	}
	table := expenseTables[ex.Source]
	ex.Version = expectedVersion + 1
	q := `UPDATE ` + table + ` SET person_id = :person_id, full_name = :full_name,
			institution = :institution, product = :product,
			outstanding_balance = :outstanding_balance, months_remaining = :months_remaining,
			installment = :installment, delinquent = :delinquent,
			delinquent_recent = :delinquent_recent, last_updated = :last_updated,
			created_at = :created_at, version = :version
		WHERE id = :id AND version = :expected_version`
	res, err := r.tx.NamedExecContext(ctx, q, struct {
		entity.Expense
		ExpectedVersion int64 `db:"expected_version"`
	}{ex, expectedVersion})
	if err != nil {
		return entity.Expense{}, fmt.Errorf("update %s: %w", table, classify(err))
	}
	if err := r.checkReplaced(ctx, res, table, ex.ID); err != nil {
		return entity.Expense{}, err
	}
	return ex, nil
}

// checkReplaced tells a stale version apart from a missing row.
func (r *pgRecords) checkReplaced(ctx context.Context, res sql.Result, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := r.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("lookup %s: %w", table, classify(err))
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrNotFound
}

func incomeTable(src entity.Source) (string, error) {
	t, ok := incomeTables[src]
	if !ok {
		return "", fmt.Errorf("%w: unknown source %q", entity.ErrInvalidRecord, src)
	}
	return t, nil
}

func expenseTable(src entity.Source) (string, error) {
	t, ok := expenseTables[src]
	if !ok {
		return "", fmt.Errorf("%w: unknown source %q", entity.ErrInvalidRecord, src)
	}
	return t, nil
}

// classify maps serialization failures to ErrVersionConflict so callers see
// a concurrent writer the same way on every path. Anything else is returned
// untouched.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrVersionConflict, pqErr.Message)
		}
	}
	return err
}
