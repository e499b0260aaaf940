package user

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gopkg.in/gomail.v2"

	"github.com/famledger/famledger-server/cmd/models"
	"github.com/famledger/famledger-server/cmd/utils"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes sets up all user-related routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/users/{id}", utils.AuthMiddleware(h.GetUser)).Methods("GET")
	router.HandleFunc("/users/{id}", utils.AuthMiddleware(h.UpdateUser)).Methods("PUT")
	router.HandleFunc("/users/{id}", utils.AuthMiddleware(h.DeleteUser)).Methods("DELETE")
	router.HandleFunc("/user/verify", h.verifyUser).Methods("POST")
	router.HandleFunc("/refresh", h.handleRefreshToken).Methods("POST")
	router.HandleFunc("/reset-password", h.handlePasswordResetRequest).Methods("POST")
	router.HandleFunc("/reset-password/{userId}/confirm", h.handlePasswordReset).Methods("POST")
	router.HandleFunc("/verify-reset-token", h.handleVerifyResetToken).Methods("POST")
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&loginRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user models.User
	result := h.db.Where("email = ?", loginRequest.Email).First(&user)
	if result.Error != nil {
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(loginRequest.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	// Generate Access Token for the API
	accessToken, err := generateJWT(user.ID, 15)
	if err != nil {
		http.Error(w, "Error generating access token", http.StatusInternalServerError)
		return
	}

	// Generate Refresh Token
	refreshToken, err := generateRefreshToken(user.ID)
	if err != nil {
		http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
		return
	}

	// Save Refresh Token to Database (for invalidation purposes)
	err = saveRefreshToken(h.db, user.ID, refreshToken)
	if err != nil {
		http.Error(w, "Error saving refresh token", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"message":       "Login successful",
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user_id":       user.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	// Parse json data
	var registerRequest struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&registerRequest); err != nil {
		http.Error(w, "Invalid JSON input", http.StatusBadRequest)
		return
	}
	// Validate required fields
	if registerRequest.FullName == "" || registerRequest.Email == "" || registerRequest.Password == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	// Validate unique constraints
	var existingUser models.User
	if result := h.db.Where("email = ?", registerRequest.Email).First(&existingUser); !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if result.Error != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		log.Printf("Registration attempt with duplicate email %s", registerRequest.Email)
		http.Error(w, "Email is already in use", http.StatusConflict)
		return
	}

	// Hash password
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(registerRequest.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error hashing password", http.StatusInternalServerError)
		return
	}

	// Generate verification code
	verificationCode := fmt.Sprintf("%06d", rand.Intn(1000000))
	verificationExpiry := time.Now().Add(15 * time.Minute)

	user := models.User{
		FullName:              registerRequest.FullName,
		Email:                 registerRequest.Email,
		PasswordHash:          string(passwordHash),
		EmailVerificationCode: verificationCode,
		VerificationExpiry:    verificationExpiry,
	}

	if err := h.db.Create(&user).Error; err != nil {
		http.Error(w, "Error registering user", http.StatusInternalServerError)
		return
	}

	// Send verification email
	go func() {
		if err := sendVerificationEmail(user.Email, verificationCode); err != nil {
			log.Printf("Error sending verification email: %v", err)
		}
	}()

	// Respond with success message
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "User registered successfully. Please check your email for verification code.",
		"user_id": user.ID,
	})
}

// sendVerificationEmail sends a verification email with the 6-digit code
func sendVerificationEmail(email, code string) error {
	// Load SMTP configuration from environment variables
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPort := os.Getenv("SMTP_PORT")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")

	// Create a new email message
	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Email Verification Code")
	m.SetBody("text/plain", fmt.Sprintf("Your verification code is: %s. Ignore this email if you did not request a verification code.", code))

	// Set up the dialer
	port, err := strconv.Atoi(smtpPort)
	if err != nil {
		return fmt.Errorf("invalid SMTP port: %v", err)
	}
	d := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)

	// Send the email
	return d.DialAndSend(m)
}

func (h *Handler) verifyUser(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", request.Email).First(&user).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	// Check if the code matches and is not expired
	if user.EmailVerificationCode != request.Code || time.Now().After(user.VerificationExpiry) {
		http.Error(w, "Invalid or expired verification code", http.StatusUnauthorized)
		return
	}

	user.EmailVerified = true
	user.EmailVerificationCode = "" // Clear the code
	user.VerificationExpiry = time.Time{}

	if err := h.db.Save(&user).Error; err != nil {
		http.Error(w, "Error updating user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Email verified successfully",
	})
}

// GetUser retrieves the caller's own profile
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	var user models.User
	result := h.db.First(&user, userID)
	if result.Error != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// UpdateUser updates user information
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	var updateData struct {
		FullName string `json:"full_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updateData); err != nil {
		http.Error(w, "Invalid JSON input", http.StatusBadRequest)
		return
	}

	// Find user by ID
	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	// Update fields
	if updateData.FullName != "" {
		user.FullName = updateData.FullName
	}

	// Save updated user data
	if err := h.db.Save(&user).Error; err != nil {
		http.Error(w, "Error updating user", http.StatusInternalServerError)
		return
	}

	// Return updated user details
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// DeleteUser removes the caller's account
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	result := h.db.Delete(&models.User{}, userID)
	if result.Error != nil {
		http.Error(w, "Error deleting user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "User deleted successfully",
	})
}

// requireSelf parses the id path variable and checks it names the caller
func (h *Handler) requireSelf(w http.ResponseWriter, r *http.Request) (uint, bool) {
	callerID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, false
	}

	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return 0, false
	}
	if uint(userID) != callerID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return 0, false
	}
	return uint(userID), true
}

func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	// Create a logger
	logger := log.New(os.Stdout, "RefreshToken: ", log.Ldate|log.Ltime|log.Lshortfile)

	var refreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&refreshRequest); err != nil {
		logger.Printf("Decoding error: %v", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	// Start a database transaction
	tx := h.db.Begin()

	// Validate refresh token against stored token in database
	var user models.User
	if err := tx.Where("refresh_token = ?", refreshRequest.RefreshToken).First(&user).Error; err != nil {
		tx.Rollback()
		logger.Printf("Invalid refresh token for request: %v", refreshRequest.RefreshToken)
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	// Check refresh token expiration
	if user.RefreshTokenExpiredAt.Before(time.Now()) {
		tx.Rollback()
		logger.Printf("Expired refresh token for user ID: %d", user.ID)
		http.Error(w, "Refresh token expired", http.StatusUnauthorized)
		return
	}

	// Generate new access token
	newAccessToken, err := generateJWT(user.ID, 15)
	if err != nil {
		tx.Rollback()
		logger.Printf("Failed to generate access token for user ID: %d, error: %v", user.ID, err)
		http.Error(w, "Error generating new token", http.StatusInternalServerError)
		return
	}

	// Generate new refresh token (rotation)
	newRefreshToken, err := generateRefreshToken(user.ID)
	if err != nil {
		tx.Rollback()
		logger.Printf("Failed to generate refresh token for user ID: %d, error: %v", user.ID, err)
		http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
		return
	}

	// Update user with new refresh token and expiration
	updateResult := tx.Model(&user).Updates(models.User{
		Refresh:               newRefreshToken,
		RefreshTokenExpiredAt: time.Now().Add(30 * 24 * time.Hour), // 30 days expiration
	})

	if updateResult.Error != nil {
		tx.Rollback()
		logger.Printf("Failed to update refresh token for user ID: %d, error: %v", user.ID, updateResult.Error)
		http.Error(w, "Error updating refresh token", http.StatusInternalServerError)
		return
	}

	// Commit the transaction
	if err := tx.Commit().Error; err != nil {
		logger.Printf("Transaction commit error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Respond with new tokens
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"access_token":  newAccessToken,
		"refresh_token": newRefreshToken,
	})
}

func generateJWT(userID uint, expirationMinutes int) (string, error) {
	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(userID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute * time.Duration(expirationMinutes))),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("SECRET_KEY")))
}

func generateRefreshToken(userID uint) (string, error) {
	// Generate cryptographically secure random bytes
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}

	// Use HMAC to create a token that's tied to the user
	mac := hmac.New(sha256.New, []byte(os.Getenv("SECRET_KEY")))
	mac.Write([]byte(fmt.Sprintf("%d", userID)))
	mac.Write(b)

	signature := mac.Sum(nil)
	return fmt.Sprintf("%d_%x_%x", userID, b, signature), nil
}

func saveRefreshToken(db *gorm.DB, userID uint, refreshToken string) error {
	expirationTime := time.Now().Add(30 * 24 * time.Hour) // 30 days
	return db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"refresh_token":            refreshToken,
		"refresh_token_expired_at": expirationTime,
	}).Error
}

func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var resetRequest struct {
		Email string `json:"email"`
	}

	if err := json.NewDecoder(r.Body).Decode(&resetRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Validate email
	if resetRequest.Email == "" {
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	}

	// Find user by email
	var user models.User
	result := h.db.Where("email = ?", resetRequest.Email).First(&user)
	if result.Error != nil {
		// Keep response vague for security
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "If an account exists, a reset code will be sent to your email",
		})
		return
	}

	// Generate a secure 6-digit reset token
	resetToken := fmt.Sprintf("%06d", rand.Intn(1000000))

	// Begin a transaction
	tx := h.db.Begin()

	// Delete any existing reset tokens for this user
	if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error processing reset request", http.StatusInternalServerError)
		return
	}

	// Create new reset token
	passwordResetToken := models.PasswordResetToken{
		UserID:    user.ID,
		Token:     resetToken,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}

	if err := tx.Create(&passwordResetToken).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating reset token", http.StatusInternalServerError)
		return
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error processing reset request", http.StatusInternalServerError)
		return
	}

	// Send the reset code via email
	if err := sendVerificationEmail(user.Email, resetToken); err != nil {
		http.Error(w, "Error sending email", http.StatusInternalServerError)
		return
	}

	// Respond to the user
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "If an account exists, a reset code will be sent to your email",
	})
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	// Extract user ID from URL parameters
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["userId"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var resetRequest struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&resetRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if resetRequest.Token == "" {
		http.Error(w, "Reset token is required", http.StatusBadRequest)
		return
	}

	// Validate password strength
	if len(resetRequest.Password) < 6 {
		http.Error(w, "Password must be at least 6 characters long", http.StatusBadRequest)
		return
	}

	// Begin a transaction
	tx := h.db.Begin()

	// The reset only proceeds with the emailed token; it is consumed below so
	// a token never resets a password twice.
	var resetToken models.PasswordResetToken
	if err := tx.Where("user_id = ? AND token = ?", userID, resetRequest.Token).First(&resetToken).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Invalid or expired reset token", http.StatusUnauthorized)
		return
	}
	if time.Now().After(resetToken.ExpiresAt) {
		tx.Rollback()
		http.Error(w, "Invalid or expired reset token", http.StatusUnauthorized)
		return
	}

	// Find the user by ID
	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		tx.Rollback()
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	// Hash the new password
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(resetRequest.Password), bcrypt.DefaultCost)
	if err != nil {
		tx.Rollback()
		http.Error(w, "Error hashing password", http.StatusInternalServerError)
		return
	}

	// Update the user's password
	user.PasswordHash = string(passwordHash)
	if err := tx.Save(&user).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating password", http.StatusInternalServerError)
		return
	}

	// Consume the token
	if err := tx.Delete(&resetToken).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error processing password reset", http.StatusInternalServerError)
		return
	}

	// Commit the transaction
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error processing password reset", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Password reset successful",
	})
}

type TokenVerificationRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

func (h *Handler) handleVerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req TokenVerificationRequest

	// Decode the incoming request payload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Find the user by email
	var user models.User
	if err := h.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		// Deliberately vague response to avoid revealing user existence
		http.Error(w, "Invalid email or token", http.StatusBadRequest)
		return
	}

	// Find the reset token for the user
	var resetToken models.PasswordResetToken
	if err := h.db.Where("user_id = ? AND token = ?", user.ID, req.Token).First(&resetToken).Error; err != nil {
		http.Error(w, "Invalid email or token", http.StatusBadRequest)
		return
	}

	// Check if the token is expired
	if time.Now().After(resetToken.ExpiresAt) {
		http.Error(w, "Token expired", http.StatusBadRequest)
		return
	}

	// Token is valid; respond with success and include user ID
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Token is valid",
		"user_id": user.ID,
	})
}
