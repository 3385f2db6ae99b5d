package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "pipelinecrm/controllers"
	"pipelinecrm/middleware"
	"pipelinecrm/worker"
)

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Auth routes group with logging middleware
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentUser)

	authLogger.Println("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, sequenceWorker *worker.SequenceWorker) {
	// Initialize controllers with their respective loggers
	companyController := controller.NewCompanyController(db, log.New(os.Stdout, "COMPANY: ", log.LstdFlags))
	dealController := controller.NewDealController(db, log.New(os.Stdout, "DEAL: ", log.LstdFlags))
	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	cronController := controller.NewCronController(sequenceWorker, log.New(os.Stdout, "CRON: ", log.LstdFlags))
	mailController := controller.NewMailController(db, sequenceWorker.Mailer, log.New(os.Stdout, "MAIL: ", log.LstdFlags))
	leadFinderController := controller.NewLeadFinderController(log.New(os.Stdout, "LEADS: ", log.LstdFlags))

	// Cron trigger sits outside the authenticated API group; an external
	// scheduler invokes it on a fixed cadence.
	app.Get("/cron/sequences", cronController.TriggerSequences)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Company routes
	company := api.Group("/companies")
	company.Post("/", companyController.CreateCompany)
	company.Get("/", companyController.GetCompanies)
	company.Get("/:id", companyController.GetCompany)
	company.Put("/:id", companyController.UpdateCompany)
	company.Delete("/:id", companyController.DeleteCompany)
	company.Post("/:id/contacts", companyController.AddContact)
	company.Delete("/contacts/:contactID", companyController.DeleteContact)

	// Deal routes (Kanban board)
	deal := api.Group("/deals")
	deal.Post("/", dealController.CreateDeal)
	deal.Get("/", dealController.GetDeals)
	deal.Put("/:id/stage", dealController.MoveDealStage)
	deal.Delete("/:id", dealController.DeleteDeal)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Post("/assign", middleware.AssignRateLimiter(), sequenceController.AssignCompanies)
	sequence.Post("/remove", sequenceController.RemoveAssignment)
	sequence.Get("/:id/logs", sequenceController.GetSendLogs)

	// Mail routes
	mail := api.Group("/mail")
	mail.Post("/send", mailController.SendMail)
	mail.Post("/connections", mailController.CreateConnection)
	mail.Get("/connections", mailController.GetConnections)

	// Lead discovery
	api.Post("/leads/discover", leadFinderController.DiscoverLeads)

	log.Println("API routes initialized successfully")
}

// SetupRoutes wires every route group. The sequence worker is shared
// between the internal daily loop (started in main) and the cron
// trigger endpoint.
func SetupRoutes(app *fiber.App, db *gorm.DB, sequenceWorker *worker.SequenceWorker) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, db)
	SetupAPIRoutes(app, db, sequenceWorker)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
