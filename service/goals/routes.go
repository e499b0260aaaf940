package goals

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type GoalHandler struct {
	db *gorm.DB
}

func NewGoalHandler(db *gorm.DB) *GoalHandler {
	return &GoalHandler{db: db}
}

// RegisterRoutes registers budget goal routes with Gorilla Mux
func (h *GoalHandler) RegisterRoutes(router *mux.Router) {
	goalRouter := router.PathPrefix("/goals").Subrouter()

	goalRouter.HandleFunc("", utils.AuthMiddleware(h.GetGoals)).Methods("GET")
	goalRouter.HandleFunc("", utils.AuthMiddleware(h.CreateGoal)).Methods("POST")
	goalRouter.HandleFunc("/{id}", utils.AuthMiddleware(h.UpdateGoal)).Methods("PUT")
	goalRouter.HandleFunc("/{id}", utils.AuthMiddleware(h.DeleteGoal)).Methods("DELETE")
	goalRouter.HandleFunc("/{id}/status", utils.AuthMiddleware(h.UpdateGoalStatus)).Methods("PATCH")
}

func (h *GoalHandler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var request struct {
		HouseholdID   *uint           `json:"household_id"`
		Kind          string          `json:"kind"`
		Category      string          `json:"category"`
		PlannedAmount decimal.Decimal `json:"planned_amount"`
		StartDate     string          `json:"start_date"`
		EndDate       string          `json:"end_date"`
		Interval      string          `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !models.ValidGoalKind(request.Kind) {
		http.Error(w, "Kind must be income or expense", http.StatusBadRequest)
		return
	}
	if request.Category == "" {
		http.Error(w, "Category is required", http.StatusBadRequest)
		return
	}
	if request.PlannedAmount.IsNegative() {
		http.Error(w, "Planned amount cannot be negative", http.StatusBadRequest)
		return
	}
	startDate, err := utils.ParseDate(request.StartDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	goal := models.BudgetGoal{
		UserID:        userID,
		HouseholdID:   request.HouseholdID,
		Kind:          request.Kind,
		Category:      request.Category,
		PlannedAmount: request.PlannedAmount,
		StartDate:     startDate,
		Interval:      request.Interval,
		Status:        models.GoalStatusPending,
		Month:         utils.MonthStart(startDate),
	}
	if request.EndDate != "" {
		endDate, err := utils.ParseDate(request.EndDate)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if endDate.Before(startDate) {
			http.Error(w, "End date must not be before start date", http.StatusBadRequest)
			return
		}
		goal.EndDate = &endDate
	}

	if request.HouseholdID != nil {
		if err := utils.RequireMembership(h.db, *request.HouseholdID, userID); err != nil {
			if errors.Is(err, utils.ErrNotHouseholdMember) {
				http.Error(w, "Not a member of this household", http.StatusForbidden)
			} else {
				http.Error(w, "Error checking household membership", http.StatusInternalServerError)
			}
			return
		}
	}

	if err := h.db.Create(&goal).Error; err != nil {
		http.Error(w, "Failed to create goal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(goal)
}

// GetGoals lists goals for a scope, optionally narrowed to a kind and to the
// goals whose validity window overlaps a month.
func (h *GoalHandler) GetGoals(w http.ResponseWriter, r *http.Request) {
	scope, err := utils.ScopeFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := scope.Authorize(h.db); err != nil {
		if errors.Is(err, utils.ErrNotHouseholdMember) {
			http.Error(w, "Not a member of this household", http.StatusForbidden)
		} else {
			http.Error(w, "Error checking household membership", http.StatusInternalServerError)
		}
		return
	}

	query := scope.Apply(h.db.Model(&models.BudgetGoal{}))

	if kind := r.URL.Query().Get("kind"); kind != "" {
		if !models.ValidGoalKind(kind) {
			http.Error(w, "Invalid kind parameter", http.StatusBadRequest)
			return
		}
		query = query.Where("kind = ?", kind)
	}

	if rawMonth := r.URL.Query().Get("month"); rawMonth != "" {
		month, err := utils.ParseMonth(rawMonth)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// A goal applies to every month its validity window spans.
		query = query.
			Where("start_date <= ?", utils.MonthEnd(month)).
			Where("(end_date IS NULL OR end_date >= ?)", utils.MonthStart(month))
	}

	var goals []models.BudgetGoal
	if err := query.Order("category ASC, start_date ASC").Find(&goals).Error; err != nil {
		http.Error(w, "Failed to retrieve goals", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(goals)
}

func (h *GoalHandler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.loadAccessibleGoal(w, r)
	if !ok {
		return
	}

	var request struct {
		Category      string           `json:"category"`
		PlannedAmount *decimal.Decimal `json:"planned_amount"`
		StartDate     string           `json:"start_date"`
		EndDate       *string          `json:"end_date"`
		Interval      *string          `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.Category != "" {
		goal.Category = request.Category
	}
	if request.PlannedAmount != nil {
		if request.PlannedAmount.IsNegative() {
			http.Error(w, "Planned amount cannot be negative", http.StatusBadRequest)
			return
		}
		goal.PlannedAmount = *request.PlannedAmount
	}
	if request.StartDate != "" {
		startDate, err := utils.ParseDate(request.StartDate)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		goal.StartDate = startDate
		goal.Month = utils.MonthStart(startDate)
	}
	if request.EndDate != nil {
		if *request.EndDate == "" {
			goal.EndDate = nil
		} else {
			endDate, err := utils.ParseDate(*request.EndDate)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if endDate.Before(goal.StartDate) {
				http.Error(w, "End date must not be before start date", http.StatusBadRequest)
				return
			}
			goal.EndDate = &endDate
		}
	}
	if request.Interval != nil {
		goal.Interval = *request.Interval
	}

	if err := h.db.Save(goal).Error; err != nil {
		http.Error(w, "Failed to update goal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(goal)
}

func (h *GoalHandler) UpdateGoalStatus(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.loadAccessibleGoal(w, r)
	if !ok {
		return
	}

	var request struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Status != models.GoalStatusPending && request.Status != models.GoalStatusDone {
		http.Error(w, "Status must be pending or done", http.StatusBadRequest)
		return
	}

	goal.Status = request.Status
	if err := h.db.Save(goal).Error; err != nil {
		http.Error(w, "Failed to update goal status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(goal)
}

func (h *GoalHandler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.loadAccessibleGoal(w, r)
	if !ok {
		return
	}

	if err := h.db.Delete(goal).Error; err != nil {
		http.Error(w, "Failed to delete goal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Goal deleted successfully",
	})
}

func (h *GoalHandler) loadAccessibleGoal(w http.ResponseWriter, r *http.Request) (*models.BudgetGoal, bool) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	vars := mux.Vars(r)
	goalID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid goal ID", http.StatusBadRequest)
		return nil, false
	}

	var goal models.BudgetGoal
	if err := h.db.First(&goal, goalID).Error; err != nil {
		http.Error(w, "Goal not found", http.StatusNotFound)
		return nil, false
	}

	if goal.HouseholdID != nil {
		if err := utils.RequireMembership(h.db, *goal.HouseholdID, userID); err != nil {
			http.Error(w, "Goal not found", http.StatusNotFound)
			return nil, false
		}
	} else if goal.UserID != userID {
		http.Error(w, "Goal not found", http.StatusNotFound)
		return nil, false
	}

	return &goal, true
}
