package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"pipelinecrm/models"
	"pipelinecrm/utils"
)

type CompanyController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewCompanyController(db *gorm.DB, logger *log.Logger) *CompanyController {
	return &CompanyController{DB: db, Logger: logger}
}

type CreateCompanyRequest struct {
	Name     string `json:"name" validate:"required"`
	Domain   string `json:"domain"`
	Industry string `json:"industry"`
	Website  string `json:"website"`
	Notes    string `json:"notes"`
}

func (cc *CompanyController) CreateCompany(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var req CreateCompanyRequest
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

	company := models.Company{
		OrganizationID: orgID,
		Name:           req.Name,
		Domain:         utils.ExtractDomain(req.Domain),
		Industry:       req.Industry,
		Website:        req.Website,
		Notes:          req.Notes,
	}
	if err := cc.DB.Create(&company).Error; err != nil {
		cc.Logger.Printf("Failed to create company: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create company",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(company)
}

func (cc *CompanyController) GetCompanies(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var companies []models.Company
	if err := cc.DB.Where("organization_id = ?", orgID).
		Preload("Contacts", func(db *gorm.DB) *gorm.DB {
			return db.Order("contacts.created_at ASC")
		}).
		Order("created_at DESC").
		Find(&companies).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch companies",
		})
	}

	return c.JSON(companies)
}

func (cc *CompanyController) GetCompany(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var company models.Company
	if err := cc.DB.Where("id = ? AND organization_id = ?", c.Params("id"), orgID).
		Preload("Contacts", func(db *gorm.DB) *gorm.DB {
			return db.Order("contacts.created_at ASC")
		}).
		Preload("Deals").
		First(&company).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Company not found",
		})
	}

	return c.JSON(company)
}

func (cc *CompanyController) UpdateCompany(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var company models.Company
	if err := cc.DB.Where("id = ? AND organization_id = ?", c.Params("id"), orgID).
		First(&company).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Company not found",
		})
	}

	var req CreateCompanyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Domain != "" {
		updates["domain"] = utils.ExtractDomain(req.Domain)
	}
	if req.Industry != "" {
		updates["industry"] = req.Industry
	}
	if req.Website != "" {
		updates["website"] = req.Website
	}
	if req.Notes != "" {
		updates["notes"] = req.Notes
	}

	if err := cc.DB.Model(&company).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update company",
		})
	}

	return c.JSON(company)
}

func (cc *CompanyController) DeleteCompany(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	result := cc.DB.Where("id = ? AND organization_id = ?", c.Params("id"), orgID).
		Delete(&models.Company{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete company",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Company not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Company deleted successfully",
	})
}

type CreateContactRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Title string `json:"title"`
	Phone string `json:"phone"`
}

func (cc *CompanyController) AddContact(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var company models.Company
	if err := cc.DB.Where("id = ? AND organization_id = ?", c.Params("id"), orgID).
		First(&company).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Company not found",
		})
	}

	var req CreateContactRequest
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

	contact := models.Contact{
		OrganizationID: orgID,
		CompanyID:      company.ID,
		Name:           req.Name,
		Email:          req.Email,
		Title:          req.Title,
		Phone:          req.Phone,
	}
	if err := cc.DB.Create(&contact).Error; err != nil {
		cc.Logger.Printf("Failed to create contact: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create contact",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(contact)
}

func (cc *CompanyController) DeleteContact(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	result := cc.DB.Where("id = ? AND organization_id = ?", c.Params("contactID"), orgID).
		Delete(&models.Contact{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete contact",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Contact deleted successfully",
	})
}
