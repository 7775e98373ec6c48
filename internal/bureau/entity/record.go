package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source tags where a record originated.
type Source string

const (
	SourceInternal Source = "internal"
	SourceExternal Source = "external"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	return s == SourceInternal || s == SourceExternal
}

// ParseSource accepts the canonical names plus the legacy spanish ones.
func ParseSource(v string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "internal", "interno":
		return SourceInternal, nil
	case "external", "externo":
		return SourceExternal, nil
	}
	return "", fmt.Errorf("unknown source %q", v)
}

// ProductKind enumerates the debt products an expense record can describe.
type ProductKind string

const (
	ProductLoan       ProductKind = "LOAN"
	ProductCreditCard ProductKind = "CREDIT_CARD"
)

// ParseProductKind normalizes a product name. PRESTAMO and TARJETA_CREDITO
// are accepted because the core still emits them.
func ParseProductKind(v string) (ProductKind, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LOAN", "PRESTAMO":
		return ProductLoan, nil
	case "CREDIT_CARD", "TARJETA_CREDITO", "TARJETA_DE_CREDITO":
		return ProductCreditCard, nil
	}
	return "", fmt.Errorf("unknown product %q", v)
}

func (p *ProductKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	k, err := ParseProductKind(s)
	if err != nil {
		return err
	}
	*p = k
	return nil
}

// Flag is a yes/no marker rendered as "SI"/"NO" on the wire.
type Flag bool

const (
	Yes Flag = true
	No  Flag = false
)

func (f Flag) String() string {
	if f {
		return "SI"
	}
	return "NO"
}

func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*f = Flag(v)
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "SI", "SÍ", "YES", "TRUE":
			*f = Yes
		case "NO", "FALSE":
			*f = No
		default:
			return fmt.Errorf("invalid flag %q", v)
		}
	default:
		return fmt.Errorf("invalid flag %s", string(b))
	}
	return nil
}

// Scan implements sql.Scanner.
func (f *Flag) Scan(src any) error {
	switch v := src.(type) {
	case bool:
		*f = Flag(v)
	case nil:
		*f = No
	case []byte:
		*f = Flag(string(v) == "t" || string(v) == "true")
	case string:
		*f = Flag(v == "t" || v == "true")
	default:
		return fmt.Errorf("cannot scan %T into Flag", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (f Flag) Value() (driver.Value, error) {
	return bool(f), nil
}

// Income is an average-balance record (savings or checking style account).
type Income struct {
	ID             int64           `json:"id" db:"id"`
	Source         Source          `json:"source" db:"-"`
	PersonID       string          `json:"person_id" db:"person_id"`
	FullName       string          `json:"full_name" db:"full_name"`
	Institution    string          `json:"institution" db:"institution"`
	Product        string          `json:"product" db:"product"`
	AverageBalance decimal.Decimal `json:"average_balance" db:"average_balance"`
	AccountNumber  string          `json:"account_number" db:"account_number"`
	LastUpdated    time.Time       `json:"last_updated" db:"last_updated"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	Version        int64           `json:"version" db:"version"`
}

// Expense is a debt product (loan or credit card) with its repayment state.
type Expense struct {
	ID                 int64           `json:"id" db:"id"`
	Source             Source          `json:"source" db:"-"`
	PersonID           string          `json:"person_id" db:"person_id"`
	FullName           string          `json:"full_name" db:"full_name"`
	Institution        string          `json:"institution" db:"institution"`
	Product            ProductKind     `json:"product" db:"product"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance" db:"outstanding_balance"`
	MonthsRemaining    int             `json:"months_remaining" db:"months_remaining"`
	Installment        decimal.Decimal `json:"installment" db:"installment"`
	Delinquent         Flag            `json:"delinquent" db:"delinquent"`
	DelinquentRecent   Flag            `json:"delinquent_last_three_months" db:"delinquent_recent"`
	LastUpdated        time.Time       `json:"last_updated" db:"last_updated"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	Version            int64           `json:"version" db:"version"`
}

// ErrInvalidRecord is wrapped by every validation failure.
var ErrInvalidRecord = errors.New("invalid record")

// Validate checks the invariants shared by both sources.
func (in Income) Validate() error {
	if strings.TrimSpace(in.PersonID) == "" {
		return fmt.Errorf("%w: person_id is required", ErrInvalidRecord)
	}
	if !in.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidRecord, in.Source)
	}
	if in.AverageBalance.IsNegative() {
		return fmt.Errorf("%w: average_balance must be >= 0", ErrInvalidRecord)
	}
	return nil
}

func (ex Expense) Validate() error {
	if strings.TrimSpace(ex.PersonID) == "" {
		return fmt.Errorf("%w: person_id is required", ErrInvalidRecord)
	}
	if !ex.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidRecord, ex.Source)
	}
	if ex.Product != ProductLoan && ex.Product != ProductCreditCard {
		return fmt.Errorf("%w: unknown product %q", ErrInvalidRecord, ex.Product)
	}
	if ex.OutstandingBalance.IsNegative() || ex.Installment.IsNegative() {
		return fmt.Errorf("%w: amounts must be >= 0", ErrInvalidRecord)
	}
	if ex.MonthsRemaining < 0 {
		return fmt.Errorf("%w: months_remaining must be >= 0", ErrInvalidRecord)
	}
	return nil
}

// DedupKey identifies an expense for reconciliation purposes.
type DedupKey struct {
	PersonID           string
	Product            ProductKind
	OutstandingBalance decimal.Decimal
	MonthsRemaining    int
	Installment        decimal.Decimal
}

// Key returns the dedup tuple of ex.
func (ex Expense) Key() DedupKey {
	return DedupKey{
		PersonID:           ex.PersonID,
		Product:            ex.Product,
		OutstandingBalance: ex.OutstandingBalance,
		MonthsRemaining:    ex.MonthsRemaining,
		Installment:        ex.Installment,
	}
}

// Matches compares by value so 500 and 500.00 are the same balance.
func (k DedupKey) Matches(ex Expense) bool {
	return k.PersonID == ex.PersonID &&
		k.Product == ex.Product &&
		k.MonthsRemaining == ex.MonthsRemaining &&
		k.OutstandingBalance.Equal(ex.OutstandingBalance) &&
		k.Installment.Equal(ex.Installment)
}

// Day truncates t to midnight UTC, the resolution stored for record dates.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
