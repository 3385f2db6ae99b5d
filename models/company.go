package models

import "gorm.io/gorm"

// Company represents a company record in the CRM
type Company struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Name     string `gorm:"not null" json:"name"`
	Domain   string `gorm:"index" json:"domain"`
	Industry string `json:"industry"`
	Website  string `json:"website"`
	Notes    string `gorm:"type:text" json:"notes"`

	// Relations
	Contacts []Contact `gorm:"foreignKey:CompanyID" json:"contacts,omitempty"`
	Deals    []Deal    `gorm:"foreignKey:CompanyID" json:"deals,omitempty"`
}

// Contact represents a person at a company. The primary contact is the
// first contact by creation order.
type Contact struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	CompanyID      uint `gorm:"not null;index" json:"company_id"`

	Name  string `gorm:"not null" json:"name"`
	Email string `gorm:"index" json:"email"`
	Title string `json:"title"`
	Phone string `json:"phone"`

	// Relations
	Company Company `json:"-"`
}
