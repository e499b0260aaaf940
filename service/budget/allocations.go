package budget

import (
	"errors"
	"fmt"
	"time"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrExceedsAvailable = errors.New("exceeds available balance")
	ErrMissingField     = errors.New("missing required field")
	ErrGoalNotFound     = errors.New("goal not found in scope")
	ErrWrongGoalKind    = errors.New("goal has the wrong kind")
)

// AllocationRequest describes one desired allocation. Either IncomeGoalID or
// IncomeCategory must be set; a category with realized income but no goal row
// yet is materialized as a zero-planned goal before the allocation is written.
type AllocationRequest struct {
	IncomeGoalID   uint            `json:"income_goal_id,omitempty"`
	IncomeCategory string          `json:"income_category,omitempty"`
	ExpenseGoalID  uint            `json:"expense_goal_id"`
	Amount         decimal.Decimal `json:"amount"`
	Month          time.Time       `json:"month"`
}

// AvailableBalance is what remains of an income goal: income transactions in
// the goal's category and scope dated up to the end of the goal's month,
// minus every allocation already drawn against the goal.
func AvailableBalance(db *gorm.DB, goal *models.BudgetGoal) (decimal.Decimal, error) {
	scope := utils.Scope{UserID: goal.UserID, HouseholdID: goal.HouseholdID}

	var transactions []models.Transaction
	err := scope.Apply(db.Model(&models.Transaction{})).
		Where("kind = ?", models.KindIncome).
		Where("category = ?", goal.Category).
		Where("date <= ?", utils.MonthEnd(goal.Month)).
		Find(&transactions).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("loading income transactions: %w", err)
	}

	earned := decimal.Zero
	for _, t := range transactions {
		earned = earned.Add(t.Amount)
	}

	var allocations []models.Allocation
	if err := db.Where("income_goal_id = ?", goal.ID).Find(&allocations).Error; err != nil {
		return decimal.Zero, fmt.Errorf("loading allocations: %w", err)
	}
	for _, a := range allocations {
		earned = earned.Sub(a.Amount)
	}

	return earned, nil
}

// CreateAllocation checks the income goal's balance and writes the allocation
// row inside one database transaction, so a concurrent request can no longer
// slip between the check and the insert the way two separate round trips
// would allow.
func CreateAllocation(db *gorm.DB, scope utils.Scope, req AllocationRequest) (*models.Allocation, error) {
	if req.ExpenseGoalID == 0 || (req.IncomeGoalID == 0 && req.IncomeCategory == "") {
		return nil, ErrMissingField
	}
	if req.Amount.IsZero() || req.Amount.IsNegative() {
		return nil, ErrMissingField
	}
	if req.Month.IsZero() {
		return nil, ErrMissingField
	}

	var allocation *models.Allocation
	err := db.Transaction(func(tx *gorm.DB) error {
		incomeGoal, err := resolveIncomeGoal(tx, scope, req)
		if err != nil {
			return err
		}

		var expenseGoal models.BudgetGoal
		err = scope.Apply(tx.Model(&models.BudgetGoal{})).
			Where("id = ?", req.ExpenseGoalID).
			First(&expenseGoal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGoalNotFound
		}
		if err != nil {
			return fmt.Errorf("loading expense goal: %w", err)
		}
		if expenseGoal.Kind != models.KindExpense {
			return ErrWrongGoalKind
		}

		available, err := AvailableBalance(tx, incomeGoal)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(available) {
			return ErrExceedsAvailable
		}

		allocation = &models.Allocation{
			IncomeGoalID:  incomeGoal.ID,
			ExpenseGoalID: expenseGoal.ID,
			Amount:        req.Amount,
			Month:         utils.MonthStart(req.Month),
		}
		if err := tx.Create(allocation).Error; err != nil {
			return fmt.Errorf("creating allocation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

// ReplaceMonthAllocations swaps the full allocation set for a scope and month
// in one transaction: the delete and the inserts commit together or not at
// all, so a failure can never leave the month with its allocations cleared.
func ReplaceMonthAllocations(db *gorm.DB, scope utils.Scope, month time.Time, requests []AllocationRequest) ([]models.Allocation, error) {
	monthStart := utils.MonthStart(month)

	var created []models.Allocation
	err := db.Transaction(func(tx *gorm.DB) error {
		var goalIDs []uint
		err := scope.Apply(tx.Model(&models.BudgetGoal{})).
			Where("kind = ?", models.KindIncome).
			Pluck("id", &goalIDs).Error
		if err != nil {
			return fmt.Errorf("loading income goal ids: %w", err)
		}

		if len(goalIDs) > 0 {
			err = tx.Where("month = ? AND income_goal_id IN ?", monthStart, goalIDs).
				Delete(&models.Allocation{}).Error
			if err != nil {
				return fmt.Errorf("clearing month allocations: %w", err)
			}
		}

		for _, req := range requests {
			req.Month = monthStart
			if req.ExpenseGoalID == 0 || (req.IncomeGoalID == 0 && req.IncomeCategory == "") {
				return ErrMissingField
			}
			if req.Amount.IsZero() || req.Amount.IsNegative() {
				return ErrMissingField
			}

			incomeGoal, err := resolveIncomeGoal(tx, scope, req)
			if err != nil {
				return err
			}

			var expenseGoal models.BudgetGoal
			err = scope.Apply(tx.Model(&models.BudgetGoal{})).
				Where("id = ?", req.ExpenseGoalID).
				First(&expenseGoal).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGoalNotFound
			}
			if err != nil {
				return fmt.Errorf("loading expense goal: %w", err)
			}
			if expenseGoal.Kind != models.KindExpense {
				return ErrWrongGoalKind
			}

			// Balance is rechecked against the post-delete state, so the new
			// set is validated as a whole.
			available, err := AvailableBalance(tx, incomeGoal)
			if err != nil {
				return err
			}
			if req.Amount.GreaterThan(available) {
				return ErrExceedsAvailable
			}

			allocation := models.Allocation{
				IncomeGoalID:  incomeGoal.ID,
				ExpenseGoalID: expenseGoal.ID,
				Amount:        req.Amount,
				Month:         monthStart,
			}
			if err := tx.Create(&allocation).Error; err != nil {
				return fmt.Errorf("creating allocation: %w", err)
			}
			created = append(created, allocation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// resolveIncomeGoal loads the income goal by id, or by category for the
// request's month, materializing a zero-planned goal for an income category
// that has transactions but no budget row yet.
func resolveIncomeGoal(tx *gorm.DB, scope utils.Scope, req AllocationRequest) (*models.BudgetGoal, error) {
	monthStart := utils.MonthStart(req.Month)

	var goal models.BudgetGoal
	if req.IncomeGoalID != 0 {
		err := scope.Apply(tx.Model(&models.BudgetGoal{})).
			Where("id = ?", req.IncomeGoalID).
			First(&goal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGoalNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("loading income goal: %w", err)
		}
		if goal.Kind != models.KindIncome {
			return nil, ErrWrongGoalKind
		}
		return &goal, nil
	}

	err := scope.Apply(tx.Model(&models.BudgetGoal{})).
		Where("kind = ?", models.KindIncome).
		Where("category = ?", req.IncomeCategory).
		Where("month = ?", monthStart).
		First(&goal).Error
	if err == nil {
		return &goal, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading income goal by category: %w", err)
	}

	goal = models.BudgetGoal{
		UserID:        scope.UserID,
		HouseholdID:   scope.HouseholdID,
		Kind:          models.KindIncome,
		Category:      req.IncomeCategory,
		PlannedAmount: decimal.Zero,
		StartDate:     monthStart,
		Month:         monthStart,
		Status:        models.GoalStatusPending,
	}
	if err := tx.Create(&goal).Error; err != nil {
		return nil, fmt.Errorf("materializing income goal: %w", err)
	}
	return &goal, nil
}
