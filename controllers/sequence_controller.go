package controller

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"pipelinecrm/models"
	"pipelinecrm/utils"
	"pipelinecrm/worker"
)

type SequenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{DB: db, Logger: logger}
}

type CreateSequenceRequest struct {
	Name      string                `json:"name" validate:"required"`
	FromName  string                `json:"from_name"`
	FromEmail string                `json:"from_email" validate:"omitempty,email"`
	Steps     []models.SequenceStep `json:"steps" validate:"required"`
}

// CreateSequence creates an immutable sequence definition. Steps are
// validated here because the stored blob is trusted by the worker.
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var req CreateSequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := models.ValidateSteps(req.Steps); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sequence := models.Sequence{
		OrganizationID: orgID,
		Name:           req.Name,
		FromName:       req.FromName,
		FromEmail:      req.FromEmail,
		Steps:          req.Steps,
	}
	if err := sc.DB.Create(&sequence).Error; err != nil {
		sc.Logger.Printf("Failed to create sequence: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(sequence)
}

// GetSequences lists the tenant's sequences, newest first
func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var sequences []models.Sequence
	if err := sc.DB.Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}

	return c.JSON(sequences)
}

type AssignRequest struct {
	CompanyIDs []uint `json:"company_ids"`
	SequenceID uint   `json:"sequence_id"`
}

type AssignResult struct {
	CompanyID    uint   `json:"company_id"`
	AssignmentID uint   `json:"assignment_id"`
	Created      bool   `json:"created"`
	Status       string `json:"status"`
}

// AssignCompanies enrolls a batch of companies in a sequence. Each
// company is handled independently: one bad id does not abort the
// batch, and re-assigning an enrolled company returns the existing
// assignment instead of creating a duplicate.
func (sc *SequenceController) AssignCompanies(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var req AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(req.CompanyIDs) == 0 || req.SequenceID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "company_ids and sequence_id are required",
		})
	}

	var (
		results []AssignResult
		errs    []string
	)
	for _, companyID := range req.CompanyIDs {
		assignment, created, err := worker.AssignCompanyToSequence(sc.DB, orgID, companyID, req.SequenceID)
		if err != nil {
			sc.Logger.Printf("Failed to assign company %d to sequence %d: %v",
				companyID, req.SequenceID, err)
			errs = append(errs, fmt.Sprintf("company %d: %v", companyID, err))
			continue
		}
		results = append(results, AssignResult{
			CompanyID:    companyID,
			AssignmentID: assignment.ID,
			Created:      created,
			Status:       assignment.Status,
		})
	}

	response := fiber.Map{
		"success":  len(errs) == 0,
		"assigned": len(results),
		"failed":   len(errs),
		"results":  results,
	}
	if len(errs) > 0 {
		response["errors"] = errs
	}

	// All companies failed: report it as a server-side failure
	if len(results) == 0 {
		return c.Status(fiber.StatusInternalServerError).JSON(response)
	}
	return c.JSON(response)
}

type RemoveAssignmentRequest struct {
	CompanyID  uint `json:"company_id" validate:"required"`
	SequenceID uint `json:"sequence_id" validate:"required"`
}

// RemoveAssignment pauses a company's assignment. The row and its send
// history stay in place; only the status changes.
func (sc *SequenceController) RemoveAssignment(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var req RemoveAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	paused, err := worker.PauseAssignment(sc.DB, orgID, req.CompanyID, req.SequenceID)
	if err != nil {
		sc.Logger.Printf("Failed to pause assignment: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to pause assignment",
		})
	}
	if paused == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Assignment not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"paused":  paused,
	})
}

// GetSendLogs lists the send history for a sequence, newest first
func (sc *SequenceController) GetSendLogs(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var logs []models.SequenceSendLog
	if err := sc.DB.Where("organization_id = ? AND sequence_id = ?", orgID, utils.ParseUint(c.Params("id"))).
		Order("created_at DESC").
		Limit(200).
		Find(&logs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch send logs",
		})
	}

	return c.JSON(logs)
}
