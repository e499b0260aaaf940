package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	KindIncome     = "income"
	KindExpense    = "expense"
	KindInvestment = "investment"
)

// Transaction is a single money movement. HouseholdID nil means the row lives
// in the owner's individual scope; scope queries filter on the presence or
// absence of the reference, never on a flag.
type Transaction struct {
	gorm.Model
	UserID      uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	HouseholdID *uint           `gorm:"column:household_id;index" json:"household_id,omitempty"`
	Kind        string          `gorm:"column:kind;size:20;not null;index" json:"kind"`
	Category    string          `gorm:"column:category;size:255;not null" json:"category"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`
	Date        time.Time       `gorm:"column:date;type:date;not null;index" json:"date"`
	Recurrence  string          `gorm:"column:recurrence;size:50" json:"recurrence,omitempty"`
	Note        string          `gorm:"column:note;type:text" json:"note,omitempty"`

	User      *User      `gorm:"foreignKey:UserID" json:"-"`
	Household *Household `gorm:"foreignKey:HouseholdID" json:"-"`
}

func ValidTransactionKind(kind string) bool {
	return kind == KindIncome || kind == KindExpense || kind == KindInvestment
}

// ValidGoalKind reports whether kind can carry a budget goal. Investments are
// recorded but never budgeted against.
func ValidGoalKind(kind string) bool {
	return kind == KindIncome || kind == KindExpense
}
