package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a user account in the system
type User struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Profile information
	Name     string `json:"name"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive     bool `gorm:"default:true" json:"is_active"`
	IsAdmin      bool `gorm:"default:false" json:"is_admin"`
	TokenVersion int  `gorm:"default:0" json:"-"`

	// Relations
	Organization  Organization     `json:"-"`
	Connections   []MailConnection `gorm:"foreignKey:UserID" json:"connections,omitempty"`
	RefreshTokens []RefreshToken   `gorm:"foreignKey:UserID" json:"-"`
}

// RefreshToken stores issued refresh tokens so they can be revoked
type RefreshToken struct {
	gorm.Model
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Revoked   bool      `gorm:"default:false" json:"revoked"`

	User User `json:"-"`
}
