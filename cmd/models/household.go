package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Household struct {
	gorm.Model
	Name      string `gorm:"column:name;size:255;not null" json:"name"`
	CreatorID uint   `gorm:"column:creator_id;not null" json:"creator_id"`

	Memberships []HouseholdMembership `gorm:"foreignKey:HouseholdID;constraint:OnDelete:CASCADE;" json:"memberships,omitempty"`
	Creator     *User                 `gorm:"foreignKey:CreatorID" json:"-"`
}

// HouseholdMembership links a user to a household with a role. The creator's
// admin membership is inserted in the same transaction as the household row,
// so a household always starts with at least one admin.
type HouseholdMembership struct {
	gorm.Model
	HouseholdID uint   `gorm:"column:household_id;not null;uniqueIndex:idx_household_user" json:"household_id"`
	UserID      uint   `gorm:"column:user_id;not null;uniqueIndex:idx_household_user" json:"user_id"`
	Role        string `gorm:"column:role;size:50;not null;default:member" json:"role"`

	Household *Household `gorm:"foreignKey:HouseholdID" json:"-"`
	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

type HouseholdInvitation struct {
	gorm.Model
	HouseholdID uint       `gorm:"column:household_id;not null" json:"household_id"`
	Email       string     `gorm:"column:email;size:255;not null" json:"email"`
	Role        string     `gorm:"column:role;size:50;not null;default:member" json:"role"`
	Token       string     `gorm:"column:token;size:64;not null;uniqueIndex" json:"-"`
	InvitedBy   uint       `gorm:"column:invited_by;not null" json:"invited_by"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	AcceptedAt  *time.Time `gorm:"column:accepted_at" json:"accepted_at,omitempty"`

	Household *Household `gorm:"foreignKey:HouseholdID" json:"-"`
}

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}
