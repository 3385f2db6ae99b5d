package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"pipelinecrm/models"
	"pipelinecrm/utils"
)

// SequenceWorker advances active sequence assignments: it selects the
// assignments due today, renders and dispatches each step, appends a
// send log row per attempt and moves the cursor forward on success.
type SequenceWorker struct {
	DB     *gorm.DB
	Mailer *utils.Mailer
	Logger *log.Logger
}

// RunReport summarizes one processing pass
type RunReport struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

func NewSequenceWorker(db *gorm.DB, mailer *utils.Mailer, logger *log.Logger) *SequenceWorker {
	return &SequenceWorker{
		DB:     db,
		Mailer: mailer,
		Logger: logger,
	}
}

// Start runs the internal daily schedule. The HTTP trigger endpoint
// calls ProcessDueAssignments directly; this loop exists so deployments
// without an external scheduler still advance sequences once per day.
func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sequence worker started")

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	var lastRunDay time.Time
	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			now := time.Now()
			day := utils.StartOfDay(now)
			if day.Equal(lastRunDay) {
				continue
			}
			report, err := sw.ProcessDueAssignments(now)
			if err != nil {
				sw.Logger.Printf("Error processing due assignments: %v", err)
				continue
			}
			lastRunDay = day
			sw.Logger.Printf("Daily pass complete: processed=%d sent=%d failed=%d",
				report.Processed, report.Sent, report.Failed)
		}
	}
}

// ProcessDueAssignments runs one sequential pass over every assignment
// due within [start-of-day, start-of-day+24h). Per-item dispatch errors
// are isolated; only a selector failure aborts the whole pass.
func (sw *SequenceWorker) ProcessDueAssignments(now time.Time) (RunReport, error) {
	var report RunReport

	dayStart := utils.StartOfDay(now)
	dayEnd := dayStart.Add(24 * time.Hour)

	var due []models.SequenceAssignment
	err := sw.DB.
		Where("status = ? AND next_send_at >= ? AND next_send_at < ?",
			models.AssignmentStatusActive, dayStart, dayEnd).
		Preload("Sequence").
		Preload("Company").
		Preload("Company.Contacts", func(db *gorm.DB) *gorm.DB {
			return db.Order("contacts.created_at ASC")
		}).
		Find(&due).Error
	if err != nil {
		return report, fmt.Errorf("selecting due assignments: %w", err)
	}

	for i := range due {
		report.Processed++
		if err := sw.processAssignment(&due[i], now); err != nil {
			report.Failed++
			sw.Logger.Printf("Assignment %d step %d failed: %v",
				due[i].ID, due[i].CurrentStep, err)
			continue
		}
		report.Sent++
	}

	return report, nil
}

// processAssignment sends the current step for one assignment and
// advances its cursor. The assignment is left untouched when the send
// fails, so it stays due and is retried on the next pass.
func (sw *SequenceWorker) processAssignment(a *models.SequenceAssignment, now time.Time) error {
	steps := a.Sequence.Steps
	if a.CurrentStep >= len(steps) {
		// Cursor ran past the step list (legacy rows); close it out
		return sw.DB.Model(a).Updates(map[string]interface{}{
			"status":       models.AssignmentStatusCompleted,
			"completed_at": now,
			"next_send_at": nil,
		}).Error
	}
	step := steps[a.CurrentStep]

	recipient, contactID, contactName := resolveRecipient(&a.Company)

	values := utils.TemplateValues(contactName, a.Company.Name, a.Company.Industry)
	subject := utils.RenderTemplate(step.Subject, values)
	body := utils.RenderTemplate(step.Body, values)

	scheduledFor := now
	if a.NextSendAt != nil {
		scheduledFor = *a.NextSendAt
	}

	messageID, sendErr := sw.dispatch(a, utils.OutgoingMail{
		To:        recipient,
		Subject:   subject,
		Body:      body,
		FromName:  a.Sequence.FromName,
		FromEmail: a.Sequence.FromEmail,
		DelayDays: step.DelayDays,
	})

	entry := models.SequenceSendLog{
		OrganizationID: a.OrganizationID,
		SequenceID:     a.SequenceID,
		AssignmentID:   a.ID,
		CompanyID:      utils.Pointer(a.CompanyID),
		ContactID:      contactID,
		StepIndex:      a.CurrentStep,
		ScheduledFor:   scheduledFor,
	}
	if sendErr != nil {
		entry.Status = models.SendStatusFailed
		entry.ErrorText = sendErr.Error()
	} else {
		entry.Status = models.SendStatusSent
		entry.ProviderMessageID = messageID
	}
	if err := sw.DB.Create(&entry).Error; err != nil {
		return fmt.Errorf("writing send log: %w", err)
	}

	if sendErr != nil {
		// No state transition on failure: the assignment keeps its step
		// and next-send, and is reselected on the next pass.
		return sendErr
	}

	return sw.advance(a, now)
}

func (sw *SequenceWorker) dispatch(a *models.SequenceAssignment, msg utils.OutgoingMail) (string, error) {
	conn, err := sw.Mailer.ResolveConnection(a.OrganizationID, nil)
	if err != nil {
		return "", err
	}
	return sw.Mailer.Send(conn, msg)
}

// advance moves the cursor to the next step, or completes the
// assignment when the step list is exhausted.
func (sw *SequenceWorker) advance(a *models.SequenceAssignment, now time.Time) error {
	next := a.CurrentStep + 1
	if next < len(a.Sequence.Steps) {
		nextSend := now.AddDate(0, 0, a.Sequence.Steps[next].DelayDays)
		return sw.DB.Model(a).Updates(map[string]interface{}{
			"current_step": next,
			"next_send_at": nextSend,
		}).Error
	}

	return sw.DB.Model(a).Updates(map[string]interface{}{
		"status":       models.AssignmentStatusCompleted,
		"completed_at": now,
		"next_send_at": nil,
	}).Error
}

// resolveRecipient picks the company's primary contact (first by
// creation order); a company with no contacts falls back to
// info@<company-domain>.
func resolveRecipient(company *models.Company) (email string, contactID *uint, contactName string) {
	if len(company.Contacts) > 0 {
		contact := company.Contacts[0]
		if contact.Email != "" {
			return contact.Email, utils.Pointer(contact.ID), contact.Name
		}
	}
	domain := company.Domain
	if domain == "" {
		domain = company.Website
	}
	return utils.FallbackRecipient(domain), nil, ""
}
