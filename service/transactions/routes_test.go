package transactions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.Household{},
		&models.HouseholdMembership{},
		&models.Transaction{},
	)
	if err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func authedRequest(t *testing.T, method, target string, userID uint, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	return r.WithContext(context.WithValue(r.Context(), utils.UserIDKey, userID))
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) []models.Transaction {
	t.Helper()
	var page struct {
		Data []models.Transaction `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return page.Data
}

// An individual transaction stays invisible under a household scope even when
// its owner belongs to that household.
func TestGetTransactionsScopeIsolation(t *testing.T) {
	db := newTestDB(t)
	h := NewTransactionHandler(db)

	household := models.Household{Name: "Smiths", CreatorID: 1}
	if err := db.Create(&household).Error; err != nil {
		t.Fatalf("seeding household: %v", err)
	}
	membership := models.HouseholdMembership{HouseholdID: household.ID, UserID: 1, Role: models.RoleAdmin}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("seeding membership: %v", err)
	}

	private := models.Transaction{
		UserID:   1,
		Kind:     models.KindExpense,
		Category: "Hobbies",
		Amount:   decimal.NewFromInt(40),
		Date:     time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&private).Error; err != nil {
		t.Fatalf("seeding transaction: %v", err)
	}
	shared := models.Transaction{
		UserID:      1,
		HouseholdID: &household.ID,
		Kind:        models.KindExpense,
		Category:    "Groceries",
		Amount:      decimal.NewFromInt(90),
		Date:        time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&shared).Error; err != nil {
		t.Fatalf("seeding transaction: %v", err)
	}

	w := httptest.NewRecorder()
	h.GetTransactions(w, authedRequest(t, http.MethodGet, fmt.Sprintf("/transactions?household_id=%d", household.ID), 1, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	family := decodePage(t, w)
	if len(family) != 1 || family[0].Category != "Groceries" {
		t.Fatalf("household listing must contain only the household row, got %+v", family)
	}

	w = httptest.NewRecorder()
	h.GetTransactions(w, authedRequest(t, http.MethodGet, "/transactions", 1, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	individual := decodePage(t, w)
	if len(individual) != 1 || individual[0].Category != "Hobbies" {
		t.Fatalf("individual listing must contain only the private row, got %+v", individual)
	}
}

func TestGetTransactionsRequiresMembership(t *testing.T) {
	db := newTestDB(t)
	h := NewTransactionHandler(db)

	household := models.Household{Name: "Smiths", CreatorID: 1}
	if err := db.Create(&household).Error; err != nil {
		t.Fatalf("seeding household: %v", err)
	}

	w := httptest.NewRecorder()
	h.GetTransactions(w, authedRequest(t, http.MethodGet, fmt.Sprintf("/transactions?household_id=%d", household.ID), 42, nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", w.Code)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	db := newTestDB(t)
	h := NewTransactionHandler(db)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{
			name: "valid income",
			body: map[string]interface{}{"kind": "income", "category": "Salary", "amount": "1200.50", "date": "2024-03-01"},
			want: http.StatusCreated,
		},
		{
			name: "bad kind",
			body: map[string]interface{}{"kind": "loan", "category": "Salary", "amount": "100", "date": "2024-03-01"},
			want: http.StatusBadRequest,
		},
		{
			name: "missing category",
			body: map[string]interface{}{"kind": "expense", "amount": "100", "date": "2024-03-01"},
			want: http.StatusBadRequest,
		},
		{
			name: "non-positive amount",
			body: map[string]interface{}{"kind": "expense", "category": "Food", "amount": "0", "date": "2024-03-01"},
			want: http.StatusBadRequest,
		},
		{
			name: "bad date",
			body: map[string]interface{}{"kind": "expense", "category": "Food", "amount": "10", "date": "03/01/2024"},
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.CreateTransaction(w, authedRequest(t, http.MethodPost, "/transactions", 1, tt.body))
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}
