package models

import "gorm.io/gorm"

// Organization is the tenant boundary. Every domain row carries an
// OrganizationID and queries are always scoped by it.
type Organization struct {
	gorm.Model
	Name string `gorm:"not null" json:"name"`

	// Relations
	Users     []User    `gorm:"foreignKey:OrganizationID" json:"users,omitempty"`
	Companies []Company `gorm:"foreignKey:OrganizationID" json:"companies,omitempty"`
}
