package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"pipelinecrm/worker"
)

type CronController struct {
	Worker *worker.SequenceWorker
	Logger *log.Logger
}

func NewCronController(sw *worker.SequenceWorker, logger *log.Logger) *CronController {
	return &CronController{Worker: sw, Logger: logger}
}

// TriggerSequences is the scheduler-facing trigger: it runs one
// sequential pass over today's due assignments and reports the totals.
// A selector failure is fatal to the whole invocation; per-item send
// failures are counted and the pass continues.
func (cc *CronController) TriggerSequences(c *fiber.Ctx) error {
	now := time.Now()
	cc.Logger.Printf("Sequence cron triggered at %s", now.Format(time.RFC3339))

	report, err := cc.Worker.ProcessDueAssignments(now)
	if err != nil {
		cc.Logger.Printf("Sequence cron failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success":   false,
			"error":     err.Error(),
			"timestamp": now.Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"processed": report.Processed,
		"sent":      report.Sent,
		"failed":    report.Failed,
		"timestamp": now.Format(time.RFC3339),
	})
}
