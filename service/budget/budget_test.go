package budget

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// One shared in-memory database per test, named after the test so
	// parallel tests never collide.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Household{},
		&models.HouseholdMembership{},
		&models.HouseholdInvitation{},
		&models.Transaction{},
		&models.BudgetGoal{},
		&models.Allocation{},
	)
	if err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func amount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func seedTransaction(t *testing.T, db *gorm.DB, scope utils.Scope, kind, category, amt string, day time.Time) *models.Transaction {
	t.Helper()
	txn := models.Transaction{
		UserID:      scope.UserID,
		HouseholdID: scope.HouseholdID,
		Kind:        kind,
		Category:    category,
		Amount:      amount(t, amt),
		Date:        day,
	}
	if err := db.Create(&txn).Error; err != nil {
		t.Fatalf("seeding transaction: %v", err)
	}
	return &txn
}

func seedGoal(t *testing.T, db *gorm.DB, scope utils.Scope, kind, category, planned string, start time.Time, end *time.Time) *models.BudgetGoal {
	t.Helper()
	goal := models.BudgetGoal{
		UserID:        scope.UserID,
		HouseholdID:   scope.HouseholdID,
		Kind:          kind,
		Category:      category,
		PlannedAmount: amount(t, planned),
		StartDate:     start,
		EndDate:       end,
		Status:        models.GoalStatusPending,
		Month:         utils.MonthStart(start),
	}
	if err := db.Create(&goal).Error; err != nil {
		t.Fatalf("seeding goal: %v", err)
	}
	return &goal
}

// seedAllocation writes the row directly, bypassing the balance check, so
// tests can stage over-allocated states.
func seedAllocation(t *testing.T, db *gorm.DB, incomeGoalID, expenseGoalID uint, amt string, month time.Time) *models.Allocation {
	t.Helper()
	alloc := models.Allocation{
		IncomeGoalID:  incomeGoalID,
		ExpenseGoalID: expenseGoalID,
		Amount:        amount(t, amt),
		Month:         utils.MonthStart(month),
	}
	if err := db.Create(&alloc).Error; err != nil {
		t.Fatalf("seeding allocation: %v", err)
	}
	return &alloc
}

func assertDecimalEqual(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	w, err := decimal.NewFromString(want)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", want, err)
	}
	if !got.Equal(w) {
		t.Fatalf("expected %s, got %s", w, got)
	}
}
