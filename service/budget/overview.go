package budget

import (
	"fmt"
	"sort"
	"time"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CategorySummary is one row of the planned-vs-actual breakdown for a month.
type CategorySummary struct {
	Category   string          `json:"category"`
	Planned    decimal.Decimal `json:"planned"`
	Actual     decimal.Decimal `json:"actual"`
	OverBudget bool            `json:"over_budget"`
	Unbudgeted bool            `json:"unbudgeted"`
}

// IncomeSource is one income goal of a month together with its remaining
// availability. GoalID 0 marks a virtual goal: a category with realized
// income but no budget row yet.
type IncomeSource struct {
	GoalID    uint            `json:"goal_id,omitempty"`
	Category  string          `json:"category"`
	Planned   decimal.Decimal `json:"planned"`
	Available decimal.Decimal `json:"available"`
}

// Overview aggregates planned against actual amounts per category for one
// scope, month and kind. Planned sums every goal whose validity window
// overlaps the month; actual sums the month's transactions. A category
// present on only one side still appears with the other side at zero, and a
// category with no plan is reported as unbudgeted rather than over budget.
func Overview(db *gorm.DB, scope utils.Scope, month time.Time, kind string) ([]CategorySummary, error) {
	monthStart := utils.MonthStart(month)
	monthEnd := utils.MonthEnd(month)

	var goals []models.BudgetGoal
	err := scope.Apply(db.Model(&models.BudgetGoal{})).
		Where("kind = ?", kind).
		Where("start_date <= ?", monthEnd).
		Where("(end_date IS NULL OR end_date >= ?)", monthStart).
		Find(&goals).Error
	if err != nil {
		return nil, fmt.Errorf("loading goals: %w", err)
	}

	var transactions []models.Transaction
	err = scope.Apply(db.Model(&models.Transaction{})).
		Where("kind = ?", kind).
		Where("date >= ? AND date <= ?", monthStart, monthEnd).
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}

	planned := make(map[string]decimal.Decimal)
	for _, g := range goals {
		planned[g.Category] = planned[g.Category].Add(g.PlannedAmount)
	}
	actual := make(map[string]decimal.Decimal)
	for _, t := range transactions {
		actual[t.Category] = actual[t.Category].Add(t.Amount)
	}

	categories := make(map[string]struct{})
	for c := range planned {
		categories[c] = struct{}{}
	}
	for c := range actual {
		categories[c] = struct{}{}
	}

	summaries := make([]CategorySummary, 0, len(categories))
	for c := range categories {
		p := planned[c]
		a := actual[c]
		summaries = append(summaries, CategorySummary{
			Category:   c,
			Planned:    p,
			Actual:     a,
			OverBudget: p.IsPositive() && a.GreaterThan(p),
			Unbudgeted: !p.IsPositive(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Category < summaries[j].Category
	})
	return summaries, nil
}

// IncomeSources lists the month's income goals with their availability, plus
// a virtual zero-planned entry for every category that earned income during
// the month without a goal row.
func IncomeSources(db *gorm.DB, scope utils.Scope, month time.Time) ([]IncomeSource, error) {
	monthStart := utils.MonthStart(month)
	monthEnd := utils.MonthEnd(month)

	var goals []models.BudgetGoal
	err := scope.Apply(db.Model(&models.BudgetGoal{})).
		Where("kind = ?", models.KindIncome).
		Where("month = ?", monthStart).
		Find(&goals).Error
	if err != nil {
		return nil, fmt.Errorf("loading income goals: %w", err)
	}

	sources := make([]IncomeSource, 0, len(goals))
	covered := make(map[string]struct{})
	for i := range goals {
		available, err := AvailableBalance(db, &goals[i])
		if err != nil {
			return nil, err
		}
		sources = append(sources, IncomeSource{
			GoalID:    goals[i].ID,
			Category:  goals[i].Category,
			Planned:   goals[i].PlannedAmount,
			Available: available,
		})
		covered[goals[i].Category] = struct{}{}
	}

	var transactions []models.Transaction
	err = scope.Apply(db.Model(&models.Transaction{})).
		Where("kind = ?", models.KindIncome).
		Where("date >= ? AND date <= ?", monthStart, monthEnd).
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("loading income transactions: %w", err)
	}

	virtual := make(map[string]decimal.Decimal)
	for _, t := range transactions {
		if _, ok := covered[t.Category]; ok {
			continue
		}
		virtual[t.Category] = virtual[t.Category].Add(t.Amount)
	}
	for category, amount := range virtual {
		sources = append(sources, IncomeSource{
			Category:  category,
			Planned:   decimal.Zero,
			Available: amount,
		})
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Category < sources[j].Category
	})
	return sources, nil
}
