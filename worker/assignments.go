package worker

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pipelinecrm/models"
)

// AssignCompanyToSequence enrolls a company in a sequence. Creation is
// idempotent per (company, sequence): the unique index makes a second
// create fail with a duplicate-key error, which is treated as "already
// exists" and answered with the existing row. Returns created=false in
// that case.
func AssignCompanyToSequence(db *gorm.DB, orgID, companyID, sequenceID uint) (*models.SequenceAssignment, bool, error) {
	var company models.Company
	if err := db.Where("id = ? AND organization_id = ?", companyID, orgID).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("company %d not found", companyID)
		}
		return nil, false, err
	}

	var sequence models.Sequence
	if err := db.Where("id = ? AND organization_id = ?", sequenceID, orgID).First(&sequence).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("sequence %d not found", sequenceID)
		}
		return nil, false, err
	}

	now := time.Now()
	assignment := models.SequenceAssignment{
		OrganizationID: orgID,
		CompanyID:      companyID,
		SequenceID:     sequenceID,
		CurrentStep:    0,
		Status:         models.AssignmentStatusActive,
		EnrolledAt:     now,
		// First email fires on the next due-selector pass
		NextSendAt: &now,
	}

	err := db.Create(&assignment).Error
	if err == nil {
		return &assignment, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}

	// Lost the race or already enrolled: hand back the existing row
	var existing models.SequenceAssignment
	if err := db.Where("company_id = ? AND sequence_id = ?", companyID, sequenceID).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// PauseAssignment transitions the (company, sequence) assignment to
// paused. The row, its cursor and its send history are all preserved;
// a paused assignment is never selected as due. Returns the number of
// assignments paused.
func PauseAssignment(db *gorm.DB, orgID, companyID, sequenceID uint) (int64, error) {
	result := db.Model(&models.SequenceAssignment{}).
		Where("organization_id = ? AND company_id = ? AND sequence_id = ? AND status <> ?",
			orgID, companyID, sequenceID, models.AssignmentStatusCompleted).
		Update("status", models.AssignmentStatusPaused)
	return result.RowsAffected, result.Error
}
