package models

import (
	"time"

	"gorm.io/gorm"
)

// Deal pipeline stages for the Kanban board
const (
	DealStageLead      = "lead"
	DealStageQualified = "qualified"
	DealStageProposal  = "proposal"
	DealStageWon       = "won"
	DealStageLost      = "lost"
)

// Deal represents a sales opportunity moving through the pipeline
type Deal struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	CompanyID      uint `gorm:"not null;index" json:"company_id"`

	Title       string `gorm:"not null" json:"title"`
	AmountCents int64  `gorm:"default:0" json:"amount_cents"`
	Stage       string `gorm:"default:'lead';index" json:"stage"`

	// Position orders cards within a Kanban column
	Position  int        `gorm:"default:0" json:"position"`
	CloseDate *time.Time `json:"close_date"`

	// Relations
	Company Company `json:"company,omitempty"`
}

// ValidDealStage reports whether s is a known pipeline stage
func ValidDealStage(s string) bool {
	switch s {
	case DealStageLead, DealStageQualified, DealStageProposal, DealStageWon, DealStageLost:
		return true
	}
	return false
}
