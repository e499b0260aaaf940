package household

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes sets up all household-related routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/households", utils.AuthMiddleware(h.CreateHousehold)).Methods("POST")
	router.HandleFunc("/households", utils.AuthMiddleware(h.GetHouseholds)).Methods("GET")
	router.HandleFunc("/households/{id}/members", utils.AuthMiddleware(h.GetMembers)).Methods("GET")
	router.HandleFunc("/households/{id}/members/{userId}", utils.AuthMiddleware(h.UpdateMemberRole)).Methods("PUT")
	router.HandleFunc("/households/{id}/members/{userId}", utils.AuthMiddleware(h.RemoveMember)).Methods("DELETE")
	router.HandleFunc("/households/{id}/invitations", utils.AuthMiddleware(h.CreateInvitation)).Methods("POST")
	router.HandleFunc("/households/{id}/invitations", utils.AuthMiddleware(h.GetInvitations)).Methods("GET")
	router.HandleFunc("/households/{id}/invitations/{invId}", utils.AuthMiddleware(h.RevokeInvitation)).Methods("DELETE")
	router.HandleFunc("/invitations/accept", utils.AuthMiddleware(h.AcceptInvitation)).Methods("POST")
}

// CreateHousehold creates the household and the creator's admin membership in
// one transaction, so a household never exists without an admin.
func (h *Handler) CreateHousehold(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var request struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Name == "" {
		http.Error(w, "Household name is required", http.StatusBadRequest)
		return
	}

	tx := h.db.Begin()

	household := models.Household{
		Name:      request.Name,
		CreatorID: userID,
	}
	if err := tx.Create(&household).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating household", http.StatusInternalServerError)
		return
	}

	membership := models.HouseholdMembership{
		HouseholdID: household.ID,
		UserID:      userID,
		Role:        models.RoleAdmin,
	}
	if err := tx.Create(&membership).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating admin membership", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error committing transaction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(household)
}

// GetHouseholds lists the households the caller belongs to with their role
func (h *Handler) GetHouseholds(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var memberships []models.HouseholdMembership
	if err := h.db.Preload("Household").Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		http.Error(w, "Error retrieving households", http.StatusInternalServerError)
		return
	}

	type householdEntry struct {
		Household *models.Household `json:"household"`
		Role      string            `json:"role"`
	}
	entries := make([]householdEntry, 0, len(memberships))
	for _, m := range memberships {
		entries = append(entries, householdEntry{Household: m.Household, Role: m.Role})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *Handler) GetMembers(w http.ResponseWriter, r *http.Request) {
	userID, householdID, ok := h.parseHouseholdRequest(w, r)
	if !ok {
		return
	}

	if err := utils.RequireMembership(h.db, householdID, userID); err != nil {
		http.Error(w, "Not a member of this household", http.StatusForbidden)
		return
	}

	var memberships []models.HouseholdMembership
	if err := h.db.Preload("User").Where("household_id = ?", householdID).Find(&memberships).Error; err != nil {
		http.Error(w, "Error retrieving members", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(memberships)
}

func (h *Handler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	userID, householdID, ok := h.parseHouseholdRequest(w, r)
	if !ok {
		return
	}

	targetID, err := strconv.ParseUint(mux.Vars(r)["userId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	if ok, err := utils.IsHouseholdAdmin(h.db, householdID, userID); err != nil || !ok {
		http.Error(w, "Admin role required", http.StatusForbidden)
		return
	}

	var request struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !models.ValidRole(request.Role) {
		http.Error(w, "Role must be admin or member", http.StatusBadRequest)
		return
	}

	var membership models.HouseholdMembership
	err = h.db.Where("household_id = ? AND user_id = ?", householdID, targetID).First(&membership).Error
	if err != nil {
		http.Error(w, "Membership not found", http.StatusNotFound)
		return
	}

	// Best-effort guard against demoting the last admin. The at-least-one-admin
	// rule is only enforced here and at creation, not as a standing constraint.
	if membership.Role == models.RoleAdmin && request.Role == models.RoleMember {
		var adminCount int64
		h.db.Model(&models.HouseholdMembership{}).
			Where("household_id = ? AND role = ?", householdID, models.RoleAdmin).
			Count(&adminCount)
		if adminCount <= 1 {
			http.Error(w, "Cannot demote the only admin", http.StatusConflict)
			return
		}
	}

	membership.Role = request.Role
	if err := h.db.Save(&membership).Error; err != nil {
		http.Error(w, "Error updating member role", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(membership)
}

// RemoveMember removes a member from the household. Admins can remove anyone;
// members can remove themselves (leave).
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, householdID, ok := h.parseHouseholdRequest(w, r)
	if !ok {
		return
	}

	targetID, err := strconv.ParseUint(mux.Vars(r)["userId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	if uint(targetID) != userID {
		if ok, err := utils.IsHouseholdAdmin(h.db, householdID, userID); err != nil || !ok {
			http.Error(w, "Admin role required", http.StatusForbidden)
			return
		}
	}

	// Hard delete: the unique index spans (household_id, user_id), so a
	// soft-deleted row would block the user from ever rejoining.
	result := h.db.Unscoped().Where("household_id = ? AND user_id = ?", householdID, targetID).
		Delete(&models.HouseholdMembership{})
	if result.Error != nil {
		http.Error(w, "Error removing member", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Membership not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Member removed successfully",
	})
}

// CreateInvitation lets an admin invite an email address into the household.
// The invitation carries a random token valid for seven days.
func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	userID, householdID, ok := h.parseHouseholdRequest(w, r)
	if !ok {
		return
	}

	if ok, err := utils.IsHouseholdAdmin(h.db, householdID, userID); err != nil || !ok {
		http.Error(w, "Admin role required", http.StatusForbidden)
		return
	}

	var request struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Email == "" {
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	}
	if request.Role == "" {
		request.Role = models.RoleMember
	}
	if !models.ValidRole(request.Role) {
		http.Error(w, "Role must be admin or member", http.StatusBadRequest)
		return
	}

	// Refuse inviting an existing member
	var existing models.User
	if err := h.db.Where("email = ?", request.Email).First(&existing).Error; err == nil {
		var count int64
		h.db.Model(&models.HouseholdMembership{}).
			Where("household_id = ? AND user_id = ?", householdID, existing.ID).
			Count(&count)
		if count > 0 {
			http.Error(w, "User is already a member of this household", http.StatusConflict)
			return
		}
	}

	var household models.Household
	if err := h.db.First(&household, householdID).Error; err != nil {
		http.Error(w, "Household not found", http.StatusNotFound)
		return
	}

	invitation := models.HouseholdInvitation{
		HouseholdID: householdID,
		Email:       request.Email,
		Role:        request.Role,
		Token:       uuid.NewString(),
		InvitedBy:   userID,
		ExpiresAt:   time.Now().Add(7 * 24 * time.Hour),
	}
	if err := h.db.Create(&invitation).Error; err != nil {
		http.Error(w, "Error creating invitation", http.StatusInternalServerError)
		return
	}

	// Send the invitation email off the request path
	go func() {
		if err := sendInvitationEmail(invitation.Email, household.Name, invitation.Token); err != nil {
			log.Printf("Error sending invitation email: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(invitation)
}

func (h *Handler) GetInvitations(w http.ResponseWriter, r *http.Request) {
	userID, householdID, ok := h.parseHouseholdRequest(w, r)
	if !ok {
		return
	}

	if ok, err := utils.IsHouseholdAdmin(h.db, householdID, userID); err != nil || !ok {
		http.Error(w, "Admin role required", http.StatusForbidden)
		return
	}

	var invitations []models.HouseholdInvitation
	err := h.db.Where("household_id = ? AND accepted_at IS NULL AND expires_at > ?", householdID, time.Now()).
		Find(&invitations).Error
	if err != nil {
		http.Error(w, "Error retrieving invitations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(invitations)
}

func (h *Handler) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	userID, householdID, ok := h.parseHouseholdRequest(w, r)
	if !ok {
		return
	}

	invID, err := strconv.ParseUint(mux.Vars(r)["invId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid invitation ID", http.StatusBadRequest)
		return
	}

	if ok, err := utils.IsHouseholdAdmin(h.db, householdID, userID); err != nil || !ok {
		http.Error(w, "Admin role required", http.StatusForbidden)
		return
	}

	result := h.db.Where("id = ? AND household_id = ?", invID, householdID).
		Delete(&models.HouseholdInvitation{})
	if result.Error != nil {
		http.Error(w, "Error revoking invitation", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Invitation not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Invitation revoked successfully",
	})
}

// AcceptInvitation redeems an invitation token for the authenticated caller:
// the membership insert and the invitation update happen in one transaction.
func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var request struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	tx := h.db.Begin()

	var invitation models.HouseholdInvitation
	if err := tx.Where("token = ?", request.Token).First(&invitation).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Invalid invitation token", http.StatusNotFound)
		return
	}

	if invitation.AcceptedAt != nil {
		tx.Rollback()
		http.Error(w, "Invitation already accepted", http.StatusConflict)
		return
	}
	if time.Now().After(invitation.ExpiresAt) {
		tx.Rollback()
		http.Error(w, "Invitation expired", http.StatusGone)
		return
	}
	if invitation.Email != user.Email {
		tx.Rollback()
		http.Error(w, "Invitation was issued for a different email", http.StatusForbidden)
		return
	}

	var count int64
	tx.Model(&models.HouseholdMembership{}).
		Where("household_id = ? AND user_id = ?", invitation.HouseholdID, userID).
		Count(&count)
	if count > 0 {
		tx.Rollback()
		http.Error(w, "Already a member of this household", http.StatusConflict)
		return
	}

	membership := models.HouseholdMembership{
		HouseholdID: invitation.HouseholdID,
		UserID:      userID,
		Role:        invitation.Role,
	}
	if err := tx.Create(&membership).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating membership", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	invitation.AcceptedAt = &now
	if err := tx.Save(&invitation).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating invitation", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error committing transaction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":      "Invitation accepted",
		"household_id": invitation.HouseholdID,
		"role":         membership.Role,
	})
}

func (h *Handler) parseHouseholdRequest(w http.ResponseWriter, r *http.Request) (uint, uint, bool) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, 0, false
	}

	householdID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid household ID", http.StatusBadRequest)
		return 0, 0, false
	}

	return userID, uint(householdID), true
}

// sendInvitationEmail sends the household invitation with its accept link
func sendInvitationEmail(email, householdName, token string) error {
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPort := os.Getenv("SMTP_PORT")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")
	baseURL := os.Getenv("APP_BASE_URL")

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", email)
	m.SetHeader("Subject", fmt.Sprintf("You've been invited to join %s", householdName))
	m.SetBody("text/plain", fmt.Sprintf(
		"You have been invited to join the household %q.\n\nOpen %s/invitations/accept and enter this code: %s\n\nThe invitation expires in 7 days.",
		householdName, baseURL, token))

	port, err := strconv.Atoi(smtpPort)
	if err != nil {
		return fmt.Errorf("invalid SMTP port: %v", err)
	}
	d := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)

	return d.DialAndSend(m)
}
