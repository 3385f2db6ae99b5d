package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"pipelinecrm/models"
	"pipelinecrm/utils"
)

type MailController struct {
	DB     *gorm.DB
	Mailer *utils.Mailer
	Logger *log.Logger
}

func NewMailController(db *gorm.DB, mailer *utils.Mailer, logger *log.Logger) *MailController {
	return &MailController{DB: db, Mailer: mailer, Logger: logger}
}

type SendMailRequest struct {
	To          string `json:"to" validate:"required,email"`
	Subject     string `json:"subject" validate:"required"`
	Body        string `json:"body" validate:"required"`
	FromName    string `json:"from_name"`
	CompanyName string `json:"company_name"`
	ContactName string `json:"contact_name"`
	Industry    string `json:"industry"`
	DelayDays   int    `json:"delay_days" validate:"gte=0"`
}

// SendMail renders the subject/body templates and dispatches the
// message through the caller's provider connection. When no connection
// is configured the response degrades to a mock "sent" so local and
// demo environments work without provider credentials; the mode field
// tells the two apart.
func (mc *MailController) SendMail(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)
	userID := c.Locals("userID").(uint)

	var req SendMailRequest
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

	values := utils.TemplateValues(req.ContactName, req.CompanyName, req.Industry)
	msg := utils.OutgoingMail{
		To:        req.To,
		Subject:   utils.RenderTemplate(req.Subject, values),
		Body:      utils.RenderTemplate(req.Body, values),
		FromName:  req.FromName,
		DelayDays: req.DelayDays,
	}

	conn, err := mc.Mailer.ResolveConnection(orgID, &userID)
	if errors.Is(err, utils.ErrNoConnection) {
		// Local/demo fallback: pretend the send happened
		mc.Logger.Printf("No mail connection for org %d, returning mock send", orgID)
		return c.JSON(fiber.Map{
			"success":    true,
			"mode":       "mock",
			"message_id": "mock-" + uuid.New().String(),
			"subject":    msg.Subject,
			"body":       msg.Body,
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve mail connection",
		})
	}

	messageID, err := mc.Mailer.Send(conn, msg)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"mode":    "provider",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"mode":       "provider",
		"message_id": messageID,
	})
}

type CreateConnectionRequest struct {
	Provider     string `json:"provider" validate:"required,oneof=google smtp"`
	FromEmail    string `json:"from_email" validate:"required,email"`
	FromName     string `json:"from_name"`
	IsDefault    bool   `json:"is_default"`
	OAuthToken   string `json:"oauth_token"`
	OAuthRefresh string `json:"oauth_refresh_token"`
	SMTPHost     string `json:"smtp_host" validate:"required_if=Provider smtp"`
	SMTPPort     int    `json:"smtp_port" validate:"required_if=Provider smtp"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
}

// CreateConnection registers a mail provider connection. Credentials
// are encrypted before they hit the database.
func (mc *MailController) CreateConnection(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)
	userID := c.Locals("userID").(uint)

	var req CreateConnectionRequest
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

	encryptedToken, err := utils.Encrypt(req.OAuthToken)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt OAuth token",
		})
	}
	encryptedRefresh, err := utils.Encrypt(req.OAuthRefresh)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt OAuth refresh token",
		})
	}
	encryptedPassword, err := utils.Encrypt(req.SMTPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt SMTP password",
		})
	}

	conn := models.MailConnection{
		OrganizationID:    orgID,
		UserID:            utils.Pointer(userID),
		Provider:          req.Provider,
		FromEmail:         req.FromEmail,
		FromName:          req.FromName,
		IsDefault:         req.IsDefault,
		OAuthToken:        encryptedToken,
		OAuthRefreshToken: encryptedRefresh,
		SMTPHost:          req.SMTPHost,
		SMTPPort:          req.SMTPPort,
		SMTPUsername:      req.SMTPUsername,
		SMTPPassword:      encryptedPassword,
	}
	if err := mc.DB.Create(&conn).Error; err != nil {
		mc.Logger.Printf("Failed to create mail connection: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create connection",
		})
	}

	conn.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(conn)
}

// GetConnections lists the org's mail connections without credentials
func (mc *MailController) GetConnections(c *fiber.Ctx) error {
	orgID := c.Locals("orgID").(uint)

	var conns []models.MailConnection
	if err := mc.DB.Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Find(&conns).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch connections",
		})
	}

	for i := range conns {
		conns[i].Sanitize()
	}
	return c.JSON(conns)
}
