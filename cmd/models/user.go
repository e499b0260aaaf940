package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	FullName              string    `gorm:"column:full_name;size:255;not null" json:"full_name"`
	// The unique index is partial over live rows so a deleted account's email
	// can be registered again.
	Email                 string    `gorm:"column:email;size:255;not null;uniqueIndex:idx_users_email,where:deleted_at IS NULL" json:"email"`
	PasswordHash          string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	EmailVerified         bool      `gorm:"column:email_verified;default:false" json:"email_verified"`
	EmailVerificationCode string    `gorm:"size:6" json:"-"`
	VerificationExpiry    time.Time `gorm:"" json:"-"`
	Refresh               string    `gorm:"column:refresh_token;size:255" json:"-"`
	RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`

	Memberships []HouseholdMembership `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE;" json:"memberships,omitempty"`
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null"`
	Token     string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
}
