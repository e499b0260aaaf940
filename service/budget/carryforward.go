package budget

import (
	"fmt"
	"time"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CarryForward computes the surplus of realized income not yet allocated,
// accumulated over every month strictly before refMonth, for one scope.
// Category narrows the computation to a single category; empty means global.
//
// The surplus is clamped at zero: a category that over-allocated its past
// income counts as fully consumed, not as debt. Because the global figure
// nets surplus categories against deficit ones before clamping, the
// per-category figures do not necessarily sum to it.
//
// Query failures are returned to the caller so "unavailable" is never
// presented as a verified zero.
func CarryForward(db *gorm.DB, scope utils.Scope, refMonth time.Time, category string) (decimal.Decimal, error) {
	monthStart := utils.MonthStart(refMonth)

	// Income realized before the reference month.
	var transactions []models.Transaction
	query := scope.Apply(db.Model(&models.Transaction{})).
		Where("kind = ?", models.KindIncome).
		Where("date < ?", monthStart)
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Find(&transactions).Error; err != nil {
		return decimal.Zero, fmt.Errorf("loading prior income transactions: %w", err)
	}

	earned := decimal.Zero
	for _, t := range transactions {
		earned = earned.Add(t.Amount)
	}

	// Income goals tagged before the reference month. Allocations drawn
	// against them count as spent regardless of the allocation's own month.
	var goals []models.BudgetGoal
	goalQuery := scope.Apply(db.Model(&models.BudgetGoal{})).
		Where("kind = ?", models.KindIncome).
		Where("month < ?", monthStart)
	if category != "" {
		goalQuery = goalQuery.Where("category = ?", category)
	}
	if err := goalQuery.Find(&goals).Error; err != nil {
		return decimal.Zero, fmt.Errorf("loading prior income goals: %w", err)
	}

	allocated := decimal.Zero
	if len(goals) > 0 {
		goalIDs := make([]uint, len(goals))
		for i, g := range goals {
			goalIDs[i] = g.ID
		}

		var allocations []models.Allocation
		if err := db.Where("income_goal_id IN ?", goalIDs).Find(&allocations).Error; err != nil {
			return decimal.Zero, fmt.Errorf("loading allocations: %w", err)
		}
		for _, a := range allocations {
			allocated = allocated.Add(a.Amount)
		}
	}

	surplus := earned.Sub(allocated)
	if surplus.IsNegative() {
		return decimal.Zero, nil
	}
	return surplus, nil
}
