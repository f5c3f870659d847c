package router

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/nsem-asso/backoffice/app/controllers"
	"github.com/nsem-asso/backoffice/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Requester identity for every route; anonymous is a valid identity.
	app.Use(middleware.UserContextMiddleware)

	if err := controllers.InitializeControllers(); err != nil {
		log.Fatalf("controller initialization failed: %v", err)
	}

	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "association back office api",
		})
	})

	v1 := api.Group("/v1")

	// Gateway notifications. No identity, signature is the authentication.
	v1.Post("/webhooks/stripe", controllers.HandleStripeWebhook)

	// Public donation flow; anonymous donors allowed.
	v1.Post("/donations", controllers.HandleCreateDonation)
	v1.Get("/donations/:uuid", controllers.HandleGetDonation)
	v1.Get("/donations/:uuid/receipt", controllers.HandleGetDonationReceipt)

	// Donor surface.
	me := v1.Group("/me", middleware.RequireUser)
	me.Get("/donations", controllers.HandleMyDonations)
	me.Get("/recurrences", controllers.HandleMyRecurrences)

	recurrences := v1.Group("/recurrences", middleware.RequireUser)
	recurrences.Post("/", controllers.HandleSubscribe)
	recurrences.Post("/:uuid/pause", controllers.HandlePauseRecurrence)
	recurrences.Post("/:uuid/resume", controllers.HandleResumeRecurrence)
	recurrences.Post("/:uuid/cancel", controllers.HandleCancelRecurrence)

	// Back-office surface.
	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Get("/donations", controllers.HandleAdminListDonations)
	admin.Get("/donations/stats", controllers.HandleAdminDonationStats)
	admin.Post("/donations/:uuid/validate", controllers.HandleAdminValidateDonation)
	admin.Post("/donations/:uuid/reject", controllers.HandleAdminRejectDonation)
	admin.Post("/donations/:uuid/refund", controllers.HandleAdminRefundDonation)
	admin.Post("/donations/:uuid/receipt", controllers.HandleAdminReissueReceipt)
	admin.Get("/recurrences", controllers.HandleAdminListRecurrences)
	admin.Get("/recurrences/stats", controllers.HandleAdminRecurrenceStats)
	admin.Post("/users/:id/receipts/annual", controllers.HandleAdminAnnualReceipt)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
