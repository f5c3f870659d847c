package controllers

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/nsem-asso/backoffice/internal/pkg/database"
	"github.com/nsem-asso/backoffice/internal/pkg/funds"
	"github.com/nsem-asso/backoffice/internal/pkg/gateway"
	"github.com/nsem-asso/backoffice/internal/pkg/jobqueue"
	"github.com/nsem-asso/backoffice/internal/pkg/ledger"
	"github.com/nsem-asso/backoffice/internal/pkg/receipt"
	"github.com/nsem-asso/backoffice/internal/pkg/recurrence"
	"github.com/nsem-asso/backoffice/internal/pkg/webhook"
)

var (
	donationService   *ledger.Service
	recurrenceService *recurrence.Service
	webhookProcessor  *webhook.Processor
	receiptAllocator  *receipt.Allocator

	validate = validator.New()
)

// InitializeControllers wires the service graph from the global DB handle,
// the Stripe gateway and the job queue. Must run after SetupDatabase and the
// queue manager are up.
func InitializeControllers() error {
	db := database.GetDB()

	gw, err := gateway.NewStripeClientFromEnv()
	if err != nil {
		return err
	}

	notifier := jobqueue.NewQueueNotifier(jobqueue.GetManager().GetQueue())
	receiptAllocator = receipt.NewAllocator(nil)

	ledgerRepo := ledger.NewRepository(db, funds.NewAggregator(), receiptAllocator)
	donationService = ledger.NewService(ledgerRepo, gw, notifier)

	recurrenceService = recurrence.NewService(recurrence.NewRepository(db), donationService, gw, notifier)

	webhookProcessor = webhook.NewProcessor(webhook.NewRepository(db), gw, donationService, recurrenceService)
	return nil
}

// pagination resolves ?page= and ?per_page= with sane bounds.
func pagination(c *fiber.Ctx) (offset, limit int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "25"))
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}
	return (page - 1) * perPage, perPage
}

func validationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"error":   "validation_failed",
		"message": err.Error(),
	})
}
