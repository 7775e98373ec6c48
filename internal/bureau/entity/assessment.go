package entity

import "github.com/shopspring/decimal"

// Assessment is the scored view of a person returned by a bureau query.
// Only the arrays of the source that answered are populated.
type Assessment struct {
	FullName         string          `json:"full_name"`
	PersonID         string          `json:"person_id"`
	Source           Source          `json:"source,omitempty"`
	Institution      string          `json:"institution,omitempty"`
	InternalIncomes  []Income        `json:"internal_incomes"`
	InternalExpenses []Expense       `json:"internal_expenses"`
	ExternalIncomes  []Income        `json:"external_incomes"`
	ExternalExpenses []Expense       `json:"external_expenses"`
	RiskGrade        string          `json:"risk_grade"`
	PaymentCapacity  decimal.Decimal `json:"payment_capacity"`
}
