package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"pipelinecrm/models"
	"pipelinecrm/utils"
)

type DealController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewDealController(db *gorm.DB, logger *log.Logger) *DealController {
	return &DealController{DB: db, Logger: logger}
}

type CreateDealRequest struct {
	CompanyID   uint   `json:"company_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Stage       string `json:"stage" validate:"omitempty,oneof=lead qualified proposal won lost"`
	CloseDate   string `json:"close_date"`
}

func (dc *DealController) CreateDeal(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var req CreateDealRequest
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

	var company models.Company
	if err := dc.DB.Where("id = ? AND organization_id = ?", req.CompanyID, orgID).
		First(&company).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Company not found",
		})
	}

	stage := req.Stage
	if stage == "" {
		stage = models.DealStageLead
	}

	deal := models.Deal{
		OrganizationID: orgID,
		CompanyID:      req.CompanyID,
		Title:          req.Title,
		AmountCents:    req.AmountCents,
		Stage:          stage,
	}
	if req.CloseDate != "" {
		if closeDate, err := time.Parse("2006-01-02", req.CloseDate); err == nil {
			deal.CloseDate = &closeDate
		}
	}

	// Append to the end of the column
	var maxPos int
	dc.DB.Model(&models.Deal{}).
		Where("organization_id = ? AND stage = ?", orgID, stage).
		Select("COALESCE(MAX(position), -1)").Scan(&maxPos)
	deal.Position = maxPos + 1

	if err := dc.DB.Create(&deal).Error; err != nil {
		dc.Logger.Printf("Failed to create deal: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create deal",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(deal)
}

// GetDeals returns the pipeline board: deals grouped by stage, ordered
// by position within each column.
func (dc *DealController) GetDeals(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var deals []models.Deal
	if err := dc.DB.Where("organization_id = ?", orgID).
		Preload("Company").
		Order("stage, position ASC").
		Find(&deals).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch deals",
		})
	}

	board := map[string][]models.Deal{
		models.DealStageLead:      {},
		models.DealStageQualified: {},
		models.DealStageProposal:  {},
		models.DealStageWon:       {},
		models.DealStageLost:      {},
	}
	for _, deal := range deals {
		board[deal.Stage] = append(board[deal.Stage], deal)
	}

	return c.JSON(board)
}

type MoveDealRequest struct {
	Stage    string `json:"stage" validate:"required,oneof=lead qualified proposal won lost"`
	Position int    `json:"position" validate:"gte=0"`
}

// MoveDealStage moves a card to another Kanban column
func (dc *DealController) MoveDealStage(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var deal models.Deal
	if err := dc.DB.Where("id = ? AND organization_id = ?", c.Params("id"), orgID).
		First(&deal).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Deal not found",
		})
	}

	var req MoveDealRequest
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

	if err := dc.DB.Model(&deal).Updates(map[string]interface{}{
		"stage":    req.Stage,
		"position": req.Position,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to move deal",
		})
	}

	return c.JSON(deal)
}

func (dc *DealController) DeleteDeal(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	result := dc.DB.Where("id = ? AND organization_id = ?", c.Params("id"), orgID).
		Delete(&models.Deal{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete deal",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Deal not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Deal deleted successfully",
	})
}
