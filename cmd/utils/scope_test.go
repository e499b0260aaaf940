package utils

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/famledger/famledger-server/cmd/models"
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
	err = db.AutoMigrate(&models.Household{}, &models.HouseholdMembership{}, &models.Transaction{})
	if err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func TestScopeApplyPartitionsIndividualAndHouseholdRows(t *testing.T) {
	db := newTestDB(t)
	householdID := uint(2)

	rows := []models.Transaction{
		{UserID: 1, Kind: models.KindIncome, Category: "Salary", Amount: decimal.NewFromInt(100), Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
		{UserID: 1, HouseholdID: &householdID, Kind: models.KindIncome, Category: "Salary", Amount: decimal.NewFromInt(200), Date: time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)},
		{UserID: 9, Kind: models.KindIncome, Category: "Salary", Amount: decimal.NewFromInt(300), Date: time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seeding transaction: %v", err)
		}
	}

	var individual []models.Transaction
	err := Scope{UserID: 1}.Apply(db.Model(&models.Transaction{})).Find(&individual).Error
	if err != nil {
		t.Fatalf("individual query: %v", err)
	}
	if len(individual) != 1 || !individual[0].Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("individual scope must see exactly the owner's null-household row, got %+v", individual)
	}

	// A member's individual row is invisible under the household scope even
	// though the same user owns it.
	var family []models.Transaction
	err = Scope{UserID: 1, HouseholdID: &householdID}.Apply(db.Model(&models.Transaction{})).Find(&family).Error
	if err != nil {
		t.Fatalf("household query: %v", err)
	}
	if len(family) != 1 || !family[0].Amount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("household scope must see exactly the household row, got %+v", family)
	}
}

func TestScopeAuthorize(t *testing.T) {
	db := newTestDB(t)

	household := models.Household{Name: "Smiths", CreatorID: 1}
	if err := db.Create(&household).Error; err != nil {
		t.Fatalf("seeding household: %v", err)
	}
	membership := models.HouseholdMembership{HouseholdID: household.ID, UserID: 1, Role: models.RoleAdmin}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("seeding membership: %v", err)
	}

	if err := (Scope{UserID: 1}).Authorize(db); err != nil {
		t.Fatalf("individual scope must always be authorized: %v", err)
	}
	if err := (Scope{UserID: 1, HouseholdID: &household.ID}).Authorize(db); err != nil {
		t.Fatalf("member must be authorized: %v", err)
	}
	err := Scope{UserID: 42, HouseholdID: &household.ID}.Authorize(db)
	if !errors.Is(err, ErrNotHouseholdMember) {
		t.Fatalf("expected ErrNotHouseholdMember, got %v", err)
	}
}

func TestIsHouseholdAdmin(t *testing.T) {
	db := newTestDB(t)

	household := models.Household{Name: "Smiths", CreatorID: 1}
	if err := db.Create(&household).Error; err != nil {
		t.Fatalf("seeding household: %v", err)
	}
	seed := []models.HouseholdMembership{
		{HouseholdID: household.ID, UserID: 1, Role: models.RoleAdmin},
		{HouseholdID: household.ID, UserID: 2, Role: models.RoleMember},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seeding membership: %v", err)
		}
	}

	if ok, err := IsHouseholdAdmin(db, household.ID, 1); err != nil || !ok {
		t.Fatalf("user 1 should be admin, got ok=%v err=%v", ok, err)
	}
	if ok, err := IsHouseholdAdmin(db, household.ID, 2); err != nil || ok {
		t.Fatalf("user 2 is a plain member, got ok=%v err=%v", ok, err)
	}
}
