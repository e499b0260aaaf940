package household

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
	"github.com/gorilla/mux"
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
		&models.HouseholdInvitation{},
	)
	if err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// authedRequest builds a request with the user id already in context, the way
// the auth middleware would leave it.
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

func TestCreateHouseholdInsertsAdminMembership(t *testing.T) {
	db := newTestDB(t)
	h := NewHandler(db)

	user := models.User{FullName: "Ada", Email: "ada@example.com", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	w := httptest.NewRecorder()
	r := authedRequest(t, http.MethodPost, "/households", user.ID, map[string]string{"name": "Lovelace"})
	h.CreateHousehold(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var household models.Household
	if err := db.Where("name = ?", "Lovelace").First(&household).Error; err != nil {
		t.Fatalf("household row missing: %v", err)
	}

	var membership models.HouseholdMembership
	err := db.Where("household_id = ? AND user_id = ?", household.ID, user.ID).First(&membership).Error
	if err != nil {
		t.Fatalf("creator's membership missing: %v", err)
	}
	if membership.Role != models.RoleAdmin {
		t.Fatalf("creator must be admin, got %s", membership.Role)
	}
}

func TestAcceptInvitationCreatesMembershipOnce(t *testing.T) {
	db := newTestDB(t)
	h := NewHandler(db)

	invitee := models.User{FullName: "Grace", Email: "grace@example.com", PasswordHash: "x"}
	if err := db.Create(&invitee).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	household := models.Household{Name: "Hoppers", CreatorID: 99}
	if err := db.Create(&household).Error; err != nil {
		t.Fatalf("seeding household: %v", err)
	}
	invitation := models.HouseholdInvitation{
		HouseholdID: household.ID,
		Email:       invitee.Email,
		Role:        models.RoleMember,
		Token:       "tok-accept-once",
		InvitedBy:   99,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	if err := db.Create(&invitation).Error; err != nil {
		t.Fatalf("seeding invitation: %v", err)
	}

	w := httptest.NewRecorder()
	r := authedRequest(t, http.MethodPost, "/invitations/accept", invitee.ID, map[string]string{"token": invitation.Token})
	h.AcceptInvitation(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var membership models.HouseholdMembership
	err := db.Where("household_id = ? AND user_id = ?", household.ID, invitee.ID).First(&membership).Error
	if err != nil {
		t.Fatalf("membership missing after accept: %v", err)
	}
	if membership.Role != models.RoleMember {
		t.Fatalf("expected member role, got %s", membership.Role)
	}

	var stamped models.HouseholdInvitation
	if err := db.First(&stamped, invitation.ID).Error; err != nil {
		t.Fatalf("loading invitation: %v", err)
	}
	if stamped.AcceptedAt == nil {
		t.Fatal("invitation must be stamped accepted")
	}

	// Redeeming the same token again conflicts.
	w = httptest.NewRecorder()
	r = authedRequest(t, http.MethodPost, "/invitations/accept", invitee.ID, map[string]string{"token": invitation.Token})
	h.AcceptInvitation(w, r)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second accept, got %d", w.Code)
	}
}

func TestMemberCanRejoinAfterLeaving(t *testing.T) {
	db := newTestDB(t)
	h := NewHandler(db)

	member := models.User{FullName: "Grace", Email: "grace@example.com", PasswordHash: "x"}
	if err := db.Create(&member).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	household := models.Household{Name: "Hoppers", CreatorID: 99}
	if err := db.Create(&household).Error; err != nil {
		t.Fatalf("seeding household: %v", err)
	}
	admin := models.HouseholdMembership{HouseholdID: household.ID, UserID: 99, Role: models.RoleAdmin}
	if err := db.Create(&admin).Error; err != nil {
		t.Fatalf("seeding admin membership: %v", err)
	}
	membership := models.HouseholdMembership{HouseholdID: household.ID, UserID: member.ID, Role: models.RoleMember}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("seeding membership: %v", err)
	}

	// Member leaves.
	w := httptest.NewRecorder()
	r := authedRequest(t, http.MethodDelete,
		fmt.Sprintf("/households/%d/members/%d", household.ID, member.ID), member.ID, nil)
	r = mux.SetURLVars(r, map[string]string{
		"id":     fmt.Sprint(household.ID),
		"userId": fmt.Sprint(member.ID),
	})
	h.RemoveMember(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 leaving household, got %d: %s", w.Code, w.Body.String())
	}

	// A fresh invitation lets the same user rejoin; the removed membership
	// must not linger and block the insert.
	invitation := models.HouseholdInvitation{
		HouseholdID: household.ID,
		Email:       member.Email,
		Role:        models.RoleMember,
		Token:       "tok-rejoin",
		InvitedBy:   99,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	if err := db.Create(&invitation).Error; err != nil {
		t.Fatalf("seeding invitation: %v", err)
	}

	w = httptest.NewRecorder()
	r = authedRequest(t, http.MethodPost, "/invitations/accept", member.ID, map[string]string{"token": invitation.Token})
	h.AcceptInvitation(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 rejoining household, got %d: %s", w.Code, w.Body.String())
	}

	var rejoined models.HouseholdMembership
	err := db.Where("household_id = ? AND user_id = ?", household.ID, member.ID).First(&rejoined).Error
	if err != nil {
		t.Fatalf("membership missing after rejoin: %v", err)
	}
}

func TestAcceptInvitationRejectsWrongEmailAndExpiry(t *testing.T) {
	db := newTestDB(t)
	h := NewHandler(db)

	mallory := models.User{FullName: "Mallory", Email: "mallory@example.com", PasswordHash: "x"}
	if err := db.Create(&mallory).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	household := models.Household{Name: "Hoppers", CreatorID: 99}
	if err := db.Create(&household).Error; err != nil {
		t.Fatalf("seeding household: %v", err)
	}

	fresh := models.HouseholdInvitation{
		HouseholdID: household.ID,
		Email:       "someoneelse@example.com",
		Role:        models.RoleMember,
		Token:       "tok-wrong-email",
		InvitedBy:   99,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatalf("seeding invitation: %v", err)
	}

	w := httptest.NewRecorder()
	r := authedRequest(t, http.MethodPost, "/invitations/accept", mallory.ID, map[string]string{"token": fresh.Token})
	h.AcceptInvitation(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched email, got %d", w.Code)
	}

	expired := models.HouseholdInvitation{
		HouseholdID: household.ID,
		Email:       mallory.Email,
		Role:        models.RoleMember,
		Token:       "tok-expired",
		InvitedBy:   99,
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	if err := db.Create(&expired).Error; err != nil {
		t.Fatalf("seeding invitation: %v", err)
	}

	w = httptest.NewRecorder()
	r = authedRequest(t, http.MethodPost, "/invitations/accept", mallory.ID, map[string]string{"token": expired.Token})
	h.AcceptInvitation(w, r)
	if w.Code != http.StatusGone {
		t.Fatalf("expected 410 for expired invitation, got %d", w.Code)
	}

	var count int64
	db.Model(&models.HouseholdMembership{}).Count(&count)
	if count != 0 {
		t.Fatalf("no membership should exist after rejected accepts, found %d", count)
	}
}
