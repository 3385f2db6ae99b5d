package models

import (
	"time"

	"gorm.io/gorm"
)

// Mail connection providers
const (
	ProviderGoogle = "google"
	ProviderSMTP   = "smtp"
)

// MailConnection stores a mail provider connection for an organization.
// UserID is nil for org-wide default connections. Credentials are
// encrypted with utils.Encrypt before they reach this struct.
type MailConnection struct {
	gorm.Model
	OrganizationID uint  `gorm:"not null;index" json:"organization_id"`
	UserID         *uint `gorm:"index" json:"user_id,omitempty"`

	Provider  string `gorm:"not null" json:"provider"` // google, smtp
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `json:"from_name"`
	IsDefault bool   `gorm:"default:false;index" json:"is_default"`

	// ========= OAuth Configuration =========
	OAuthToken        string    `gorm:"column:oauth_token" json:"-"`         // Encrypted
	OAuthRefreshToken string    `gorm:"column:oauth_refresh_token" json:"-"` // Encrypted
	OAuthExpiry       time.Time `gorm:"column:oauth_expiry" json:"oauth_expiry"`

	// ========= SMTP Configuration =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"` // Encrypted

	LastError  string     `json:"last_error,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at"`

	// Relations
	User *User `json:"-"`
}

// Sanitize clears credential fields before the struct is returned to a client
func (mc *MailConnection) Sanitize() {
	mc.OAuthToken = ""
	mc.OAuthRefreshToken = ""
	mc.SMTPPassword = ""
}
