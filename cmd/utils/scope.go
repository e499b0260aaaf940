package utils

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/famledger/famledger-server/cmd/models"
	"gorm.io/gorm"
)

var ErrNotHouseholdMember = errors.New("not a member of this household")

// Scope is the partition every transaction and goal query runs under: either
// the caller's individual rows (HouseholdID nil, household_id IS NULL) or one
// household's rows. It is always passed explicitly; nothing reads an ambient
// "active household" selection.
type Scope struct {
	UserID      uint
	HouseholdID *uint
}

// ScopeFromRequest builds the scope for the authenticated caller, reading the
// optional household_id query parameter.
func ScopeFromRequest(r *http.Request) (Scope, error) {
	userID, err := GetUserIDFromContext(r)
	if err != nil {
		return Scope{}, err
	}

	scope := Scope{UserID: userID}
	if raw := r.URL.Query().Get("household_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Scope{}, errors.New("invalid household_id parameter")
		}
		householdID := uint(id)
		scope.HouseholdID = &householdID
	}
	return scope, nil
}

// Apply adds the scope predicate to a query. Individual scope matches only
// rows with an absent household reference, so a user's private rows never
// show up in a household listing and vice versa.
func (s Scope) Apply(query *gorm.DB) *gorm.DB {
	if s.HouseholdID != nil {
		return query.Where("household_id = ?", *s.HouseholdID)
	}
	return query.Where("user_id = ? AND household_id IS NULL", s.UserID)
}

// Authorize checks that the caller may operate under the scope. Individual
// scope is always allowed. Household scope requires a membership row; the
// lookup is a single direct query on household_memberships, so the check
// itself is never subject to the row filters it enforces.
func (s Scope) Authorize(db *gorm.DB) error {
	if s.HouseholdID == nil {
		return nil
	}
	return RequireMembership(db, *s.HouseholdID, s.UserID)
}

func RequireMembership(db *gorm.DB, householdID, userID uint) error {
	var count int64
	err := db.Model(&models.HouseholdMembership{}).
		Where("household_id = ? AND user_id = ?", householdID, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotHouseholdMember
	}
	return nil
}

func IsHouseholdAdmin(db *gorm.DB, householdID, userID uint) (bool, error) {
	var count int64
	err := db.Model(&models.HouseholdMembership{}).
		Where("household_id = ? AND user_id = ? AND role = ?", householdID, userID, models.RoleAdmin).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
