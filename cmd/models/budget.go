package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	GoalStatusPending = "pending"
	GoalStatusDone    = "done"
)

// BudgetGoal is a planned amount for a category, valid over [StartDate,
// EndDate] with a nil EndDate meaning open-ended. Month is the first day of
// StartDate's month and tags the goal for allocation accounting.
type BudgetGoal struct {
	gorm.Model
	UserID        uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	HouseholdID   *uint           `gorm:"column:household_id;index" json:"household_id,omitempty"`
	Kind          string          `gorm:"column:kind;size:20;not null;index" json:"kind"`
	Category      string          `gorm:"column:category;size:255;not null" json:"category"`
	PlannedAmount decimal.Decimal `gorm:"column:planned_amount;type:decimal(20,4);not null" json:"planned_amount"`
	StartDate     time.Time       `gorm:"column:start_date;type:date;not null" json:"start_date"`
	EndDate       *time.Time      `gorm:"column:end_date;type:date" json:"end_date,omitempty"`
	Interval      string          `gorm:"column:interval;size:50" json:"interval,omitempty"`
	Status        string          `gorm:"column:status;size:20;not null;default:pending" json:"status"`
	Month         time.Time       `gorm:"column:month;type:date;not null;index" json:"month"`

	User      *User      `gorm:"foreignKey:UserID" json:"-"`
	Household *Household `gorm:"foreignKey:HouseholdID" json:"-"`
}

// Allocation commits part of one income goal's balance to one expense goal.
// Month is the first day of the month the allocation was made for; allocations
// against a goal count toward its balance regardless of their own month.
type Allocation struct {
	gorm.Model
	IncomeGoalID  uint            `gorm:"column:income_goal_id;not null;index" json:"income_goal_id"`
	ExpenseGoalID uint            `gorm:"column:expense_goal_id;not null;index" json:"expense_goal_id"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`
	Month         time.Time       `gorm:"column:month;type:date;not null;index" json:"month"`

	IncomeGoal  *BudgetGoal `gorm:"foreignKey:IncomeGoalID" json:"-"`
	ExpenseGoal *BudgetGoal `gorm:"foreignKey:ExpenseGoalID" json:"-"`
}
