package budget

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BudgetHandler struct {
	db *gorm.DB
}

func NewBudgetHandler(db *gorm.DB) *BudgetHandler {
	return &BudgetHandler{db: db}
}

// RegisterRoutes registers budget accounting routes with Gorilla Mux
func (h *BudgetHandler) RegisterRoutes(router *mux.Router) {
	budgetRouter := router.PathPrefix("/budget").Subrouter()

	budgetRouter.HandleFunc("/carryforward", utils.AuthMiddleware(h.GetCarryForward)).Methods("GET")
	budgetRouter.HandleFunc("/overview", utils.AuthMiddleware(h.GetOverview)).Methods("GET")
	budgetRouter.HandleFunc("/allocations", utils.AuthMiddleware(h.GetAllocations)).Methods("GET")
	budgetRouter.HandleFunc("/allocations", utils.AuthMiddleware(h.CreateAllocation)).Methods("POST")
	budgetRouter.HandleFunc("/allocations", utils.AuthMiddleware(h.ReplaceAllocations)).Methods("PUT")
	budgetRouter.HandleFunc("/allocations/{id}", utils.AuthMiddleware(h.DeleteAllocation)).Methods("DELETE")
}

// scopeForRequest parses and authorizes the scope, replying on failure.
func (h *BudgetHandler) scopeForRequest(w http.ResponseWriter, r *http.Request) (utils.Scope, bool) {
	scope, err := utils.ScopeFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return utils.Scope{}, false
	}
	if err := scope.Authorize(h.db); err != nil {
		if errors.Is(err, utils.ErrNotHouseholdMember) {
			http.Error(w, "Not a member of this household", http.StatusForbidden)
		} else {
			http.Error(w, "Error checking household membership", http.StatusInternalServerError)
		}
		return utils.Scope{}, false
	}
	return scope, true
}

func (h *BudgetHandler) GetCarryForward(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeForRequest(w, r)
	if !ok {
		return
	}

	month, err := utils.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	category := r.URL.Query().Get("category")

	amount, err := CarryForward(h.db, scope, month, category)
	if err != nil {
		log.Printf("carry-forward computation failed: %v", err)
		http.Error(w, "Carry-forward unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"month":    utils.MonthStart(month).Format("2006-01-02"),
		"category": category,
		"amount":   amount,
	})
}

func (h *BudgetHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeForRequest(w, r)
	if !ok {
		return
	}

	month, err := utils.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = models.KindExpense
	}
	if !models.ValidGoalKind(kind) {
		http.Error(w, "Invalid kind, use income or expense", http.StatusBadRequest)
		return
	}

	summaries, err := Overview(h.db, scope, month, kind)
	if err != nil {
		log.Printf("overview computation failed: %v", err)
		http.Error(w, "Error building budget overview", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

func (h *BudgetHandler) GetAllocations(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeForRequest(w, r)
	if !ok {
		return
	}

	month, err := utils.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sources, err := IncomeSources(h.db, scope, month)
	if err != nil {
		log.Printf("income sources lookup failed: %v", err)
		http.Error(w, "Error loading income sources", http.StatusInternalServerError)
		return
	}

	var goalIDs []uint
	err = scope.Apply(h.db.Model(&models.BudgetGoal{})).
		Where("kind = ?", models.KindIncome).
		Pluck("id", &goalIDs).Error
	if err != nil {
		http.Error(w, "Error loading income goals", http.StatusInternalServerError)
		return
	}

	allocations := []models.Allocation{}
	if len(goalIDs) > 0 {
		err = h.db.Where("month = ? AND income_goal_id IN ?", utils.MonthStart(month), goalIDs).
			Find(&allocations).Error
		if err != nil {
			http.Error(w, "Error loading allocations", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"income_sources": sources,
		"allocations":    allocations,
	})
}

func (h *BudgetHandler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeForRequest(w, r)
	if !ok {
		return
	}

	var request struct {
		IncomeGoalID   uint            `json:"income_goal_id"`
		IncomeCategory string          `json:"income_category"`
		ExpenseGoalID  uint            `json:"expense_goal_id"`
		Amount         decimal.Decimal `json:"amount"`
		Month          string          `json:"month"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	month, err := utils.ParseMonth(request.Month)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	allocation, err := CreateAllocation(h.db, scope, AllocationRequest{
		IncomeGoalID:   request.IncomeGoalID,
		IncomeCategory: request.IncomeCategory,
		ExpenseGoalID:  request.ExpenseGoalID,
		Amount:         request.Amount,
		Month:          month,
	})
	if err != nil {
		h.respondAllocationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(allocation)
}

func (h *BudgetHandler) ReplaceAllocations(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeForRequest(w, r)
	if !ok {
		return
	}

	var request struct {
		Month       string              `json:"month"`
		Allocations []AllocationRequest `json:"allocations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	month, err := utils.ParseMonth(request.Month)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := ReplaceMonthAllocations(h.db, scope, month, request.Allocations)
	if err != nil {
		h.respondAllocationError(w, err)
		return
	}
	if created == nil {
		created = []models.Allocation{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(created)
}

func (h *BudgetHandler) DeleteAllocation(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeForRequest(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	allocationID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid allocation ID", http.StatusBadRequest)
		return
	}

	var allocation models.Allocation
	if err := h.db.First(&allocation, allocationID).Error; err != nil {
		http.Error(w, "Allocation not found", http.StatusNotFound)
		return
	}

	// The allocation belongs to whichever scope owns its income goal.
	var goal models.BudgetGoal
	err = scope.Apply(h.db.Model(&models.BudgetGoal{})).
		Where("id = ?", allocation.IncomeGoalID).
		First(&goal).Error
	if err != nil {
		http.Error(w, "Allocation not found", http.StatusNotFound)
		return
	}

	if err := h.db.Delete(&allocation).Error; err != nil {
		http.Error(w, "Error deleting allocation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Allocation deleted successfully",
	})
}

func (h *BudgetHandler) respondAllocationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrExceedsAvailable):
		http.Error(w, "Allocation exceeds available balance", http.StatusUnprocessableEntity)
	case errors.Is(err, ErrMissingField):
		http.Error(w, "Missing or invalid allocation fields", http.StatusBadRequest)
	case errors.Is(err, ErrGoalNotFound):
		http.Error(w, "Goal not found", http.StatusNotFound)
	case errors.Is(err, ErrWrongGoalKind):
		http.Error(w, "Goal has the wrong kind for this allocation", http.StatusBadRequest)
	default:
		log.Printf("allocation operation failed: %v", err)
		http.Error(w, "Error processing allocation", http.StatusInternalServerError)
	}
}
