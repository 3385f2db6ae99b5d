package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"pipelinecrm/config"
	"pipelinecrm/middleware"
	"pipelinecrm/routes"
	"pipelinecrm/utils"
	"pipelinecrm/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "SERVER: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting (no-op when the DSN is empty)
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         config.AppConfig.SentryDSN,
		Environment: config.AppConfig.Environment,
	}); err != nil {
		logger.Printf("Sentry initialization failed: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Initialize the sequence worker and start its daily loop
	mailer := utils.NewMailer(config.DB)
	sequenceWorker := worker.NewSequenceWorker(config.DB, mailer,
		log.New(os.Stdout, "SEQUENCE: ", log.Ldate|log.Ltime|log.Lshortfile))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sequenceWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, sequenceWorker)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
