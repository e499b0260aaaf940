package transactions

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionFilter represents all possible filters for transactions
type TransactionFilter struct {
	Kind      string
	Category  string
	StartDate time.Time
	EndDate   time.Time
}

type TransactionHandler struct {
	db *gorm.DB
}

func NewTransactionHandler(db *gorm.DB) *TransactionHandler {
	return &TransactionHandler{db: db}
}

// RegisterRoutes registers transaction-related routes with Gorilla Mux
func (h *TransactionHandler) RegisterRoutes(router *mux.Router) {
	transactionRouter := router.PathPrefix("/transactions").Subrouter()

	transactionRouter.HandleFunc("", utils.AuthMiddleware(h.GetTransactions)).Methods("GET")
	transactionRouter.HandleFunc("", utils.AuthMiddleware(h.CreateTransaction)).Methods("POST")
	transactionRouter.HandleFunc("/{id}", utils.AuthMiddleware(h.GetTransaction)).Methods("GET")
	transactionRouter.HandleFunc("/{id}", utils.AuthMiddleware(h.UpdateTransaction)).Methods("PUT")
	transactionRouter.HandleFunc("/{id}", utils.AuthMiddleware(h.DeleteTransaction)).Methods("DELETE")
}

// CreateTransaction records a new money movement in the caller's chosen scope
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var request struct {
		HouseholdID *uint           `json:"household_id"`
		Kind        string          `json:"kind"`
		Category    string          `json:"category"`
		Amount      decimal.Decimal `json:"amount"`
		Date        string          `json:"date"`
		Recurrence  string          `json:"recurrence"`
		Note        string          `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !models.ValidTransactionKind(request.Kind) {
		respondWithError(w, http.StatusBadRequest, "Kind must be income, expense or investment")
		return
	}
	if request.Category == "" {
		respondWithError(w, http.StatusBadRequest, "Category is required")
		return
	}
	if request.Amount.IsZero() || request.Amount.IsNegative() {
		respondWithError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}
	date, err := utils.ParseDate(request.Date)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if request.HouseholdID != nil {
		if err := utils.RequireMembership(h.db, *request.HouseholdID, userID); err != nil {
			if errors.Is(err, utils.ErrNotHouseholdMember) {
				respondWithError(w, http.StatusForbidden, "Not a member of this household")
			} else {
				respondWithError(w, http.StatusInternalServerError, "Error checking household membership")
			}
			return
		}
	}

	transaction := models.Transaction{
		UserID:      userID,
		HouseholdID: request.HouseholdID,
		Kind:        request.Kind,
		Category:    request.Category,
		Amount:      request.Amount,
		Date:        date,
		Recurrence:  request.Recurrence,
		Note:        request.Note,
	}
	if err := h.db.Create(&transaction).Error; err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create transaction")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	respondWithJSON(w, http.StatusCreated, transaction)
}

// GetTransactions handles retrieving transactions with various filters
func (h *TransactionHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	scope, err := utils.ScopeFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := scope.Authorize(h.db); err != nil {
		if errors.Is(err, utils.ErrNotHouseholdMember) {
			respondWithError(w, http.StatusForbidden, "Not a member of this household")
		} else {
			respondWithError(w, http.StatusInternalServerError, "Error checking household membership")
		}
		return
	}

	var filter TransactionFilter
	queryParams := r.URL.Query()

	filter.Kind = queryParams.Get("kind")
	if filter.Kind != "" && !models.ValidTransactionKind(filter.Kind) {
		respondWithError(w, http.StatusBadRequest, "Invalid kind parameter")
		return
	}
	filter.Category = queryParams.Get("category")

	// Parse date range filters
	layout := "2006-01-02"

	if startDateStr := queryParams.Get("start_date"); startDateStr != "" {
		filter.StartDate, err = time.Parse(layout, startDateStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid start_date format. Use YYYY-MM-DD")
			return
		}
	}

	if endDateStr := queryParams.Get("end_date"); endDateStr != "" {
		filter.EndDate, err = time.Parse(layout, endDateStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid end_date format. Use YYYY-MM-DD")
			return
		}
	}

	// Build query
	query := scope.Apply(h.db.Model(&models.Transaction{}))

	// Apply filters
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	if !filter.StartDate.IsZero() {
		query = query.Where("date >= ?", filter.StartDate)
	}

	if !filter.EndDate.IsZero() {
		query = query.Where("date <= ?", filter.EndDate)
	}

	// Parse pagination parameters
	page, perPage, err := utils.ParsePaginationParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid pagination parameters")
		return
	}

	// Calculate offset
	offset := (page - 1) * perPage

	// Get total count of matching records
	var totalItems int64
	query.Count(&totalItems)

	// Execute the query with pagination
	var transactions []models.Transaction
	result := query.Order("date DESC, id DESC").Limit(perPage).Offset(offset).Find(&transactions)
	if result.Error != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}

	// Calculate pagination metadata
	totalPages := int(math.Ceil(float64(totalItems) / float64(perPage)))
	paginationMeta := utils.PaginationMeta{
		CurrentPage: page,
		PerPage:     perPage,
		TotalItems:  totalItems,
		TotalPages:  totalPages,
		HasPrevious: page > 1,
		HasNext:     page < totalPages,
	}

	respondWithJSON(w, http.StatusOK, utils.PaginatedResponse{
		Data:       transactions,
		Pagination: paginationMeta,
	})
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transaction, ok := h.loadAccessibleTransaction(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	respondWithJSON(w, http.StatusOK, transaction)
}

// UpdateTransaction edits a transaction in place. Concurrent edits are last
// write wins; no version checking exists on any row.
func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	transaction, ok := h.loadAccessibleTransaction(w, r)
	if !ok {
		return
	}

	var request struct {
		Kind       string           `json:"kind"`
		Category   string           `json:"category"`
		Amount     *decimal.Decimal `json:"amount"`
		Date       string           `json:"date"`
		Recurrence *string          `json:"recurrence"`
		Note       *string          `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if request.Kind != "" {
		if !models.ValidTransactionKind(request.Kind) {
			respondWithError(w, http.StatusBadRequest, "Invalid kind")
			return
		}
		transaction.Kind = request.Kind
	}
	if request.Category != "" {
		transaction.Category = request.Category
	}
	if request.Amount != nil {
		if request.Amount.IsZero() || request.Amount.IsNegative() {
			respondWithError(w, http.StatusBadRequest, "Amount must be positive")
			return
		}
		transaction.Amount = *request.Amount
	}
	if request.Date != "" {
		date, err := utils.ParseDate(request.Date)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		transaction.Date = date
	}
	if request.Recurrence != nil {
		transaction.Recurrence = *request.Recurrence
	}
	if request.Note != nil {
		transaction.Note = *request.Note
	}

	if err := h.db.Save(transaction).Error; err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update transaction")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	respondWithJSON(w, http.StatusOK, transaction)
}

func (h *TransactionHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	transaction, ok := h.loadAccessibleTransaction(w, r)
	if !ok {
		return
	}

	if err := h.db.Delete(transaction).Error; err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete transaction")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Transaction deleted successfully",
	})
}

// loadAccessibleTransaction fetches the row and checks the caller can see it:
// the owner for individual rows, any member for household rows.
func (h *TransactionHandler) loadAccessibleTransaction(w http.ResponseWriter, r *http.Request) (*models.Transaction, bool) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}

	vars := mux.Vars(r)
	transactionID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transaction ID")
		return nil, false
	}

	var transaction models.Transaction
	if err := h.db.First(&transaction, transactionID).Error; err != nil {
		respondWithError(w, http.StatusNotFound, "Transaction not found")
		return nil, false
	}

	if transaction.HouseholdID != nil {
		if err := utils.RequireMembership(h.db, *transaction.HouseholdID, userID); err != nil {
			respondWithError(w, http.StatusNotFound, "Transaction not found")
			return nil, false
		}
	} else if transaction.UserID != userID {
		respondWithError(w, http.StatusNotFound, "Transaction not found")
		return nil, false
	}

	return &transaction, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, utils.PaginatedResponse{Error: message})
}

// Helper function to respond with JSON
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
