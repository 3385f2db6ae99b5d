package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Assignment lifecycle statuses
const (
	AssignmentStatusActive    = "active"
	AssignmentStatusPaused    = "paused"
	AssignmentStatusCompleted = "completed"
)

// Send log statuses
const (
	SendStatusSent   = "sent"
	SendStatusFailed = "failed"
)

// Sequence represents a named, ordered list of timed email steps.
// Sequences are immutable after creation.
type Sequence struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Name      string `gorm:"not null" json:"name"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`

	// Steps stored as JSON
	Steps []SequenceStep `json:"steps" gorm:"type:jsonb;serializer:json"`

	// Relations
	Assignments []SequenceAssignment `gorm:"foreignKey:SequenceID" json:"assignments,omitempty"`
}

// SequenceStep is one timed email in a sequence. DelayDays counts from
// the previous step's send.
type SequenceStep struct {
	DelayDays int    `json:"delay_days"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// ValidateSteps checks a step list at the write boundary: the list must
// be non-empty, delays non-negative and subjects present.
func ValidateSteps(steps []SequenceStep) error {
	if len(steps) == 0 {
		return errors.New("sequence must have at least one step")
	}
	for i, step := range steps {
		if step.DelayDays < 0 {
			return fmt.Errorf("step %d: delay_days must be non-negative", i)
		}
		if step.Subject == "" {
			return fmt.Errorf("step %d: subject is required", i)
		}
	}
	return nil
}

// SequenceAssignment binds one company to one sequence and tracks its
// progress cursor. The composite unique index makes assignment creation
// idempotent per (company, sequence) pair at the storage layer.
type SequenceAssignment struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	CompanyID      uint `gorm:"not null;uniqueIndex:idx_assignment_company_sequence" json:"company_id"`
	SequenceID     uint `gorm:"not null;uniqueIndex:idx_assignment_company_sequence" json:"sequence_id"`

	CurrentStep int    `gorm:"default:0" json:"current_step"`
	Status      string `gorm:"default:'active';index" json:"status"` // active, paused, completed

	EnrolledAt  time.Time  `gorm:"not null" json:"enrolled_at"`
	NextSendAt  *time.Time `gorm:"index" json:"next_send_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Company  Company  `json:"company,omitempty"`
	Sequence Sequence `json:"sequence,omitempty"`
}

// SequenceSendLog is an append-only record of one send attempt. Rows are
// created by the cron handler and never updated.
type SequenceSendLog struct {
	gorm.Model
	OrganizationID uint  `gorm:"not null;index" json:"organization_id"`
	SequenceID     uint  `gorm:"not null;index" json:"sequence_id"`
	AssignmentID   uint  `gorm:"not null;index" json:"assignment_id"`
	CompanyID      *uint `json:"company_id,omitempty"`
	ContactID      *uint `json:"contact_id,omitempty"`

	StepIndex    int       `gorm:"not null" json:"step_index"`
	ScheduledFor time.Time `gorm:"not null" json:"scheduled_for"`
	Status       string    `gorm:"not null;index" json:"status"` // sent, failed

	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ErrorText         string `gorm:"type:text" json:"error_text,omitempty"`
}
