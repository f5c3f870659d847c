package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nsem-asso/backoffice/app/models"
	"github.com/nsem-asso/backoffice/internal/pkg/recurrence"
	"github.com/nsem-asso/backoffice/internal/pkg/usercontext"
)

// SubscribeRequest opens a standing recurring donation.
type SubscribeRequest struct {
	Amount    string `json:"amount" validate:"required"`
	Frequency string `json:"frequency" validate:"required,oneof=MONTHLY QUARTERLY YEARLY"`
	ProjectID *uint  `json:"project_id"`
}

// HandleSubscribe creates a gateway subscription and the local ACTIVE
// recurrence. POST /api/v1/recurrences
func HandleSubscribe(c *fiber.Ctx) error {
	var req SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "amount must be a positive decimal",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := recurrenceService.Subscribe(ctx, usercontext.GetUserID(c), recurrence.SubscribeInput{
		Amount:    amount,
		Frequency: req.Frequency,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		if errors.Is(err, recurrence.ErrInvalidProject) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "project_not_accepting_funds"})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "subscription_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"recurrence":    result.Recurrence,
		"client_secret": result.ClientSecret,
	})
}

// HandleMyRecurrences lists the requester's recurrences.
// GET /api/v1/me/recurrences
func HandleMyRecurrences(c *fiber.Ctx) error {
	recs, err := recurrenceService.ListMine(c.Context(), usercontext.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "recurrence_list_failed"})
	}
	return c.JSON(fiber.Map{"recurrences": recs})
}

// HandlePauseRecurrence suspends billing. POST /api/v1/recurrences/:uuid/pause
func HandlePauseRecurrence(c *fiber.Ctx) error {
	return recurrenceAction(c, recurrenceService.Pause)
}

// HandleResumeRecurrence reactivates billing.
// POST /api/v1/recurrences/:uuid/resume
func HandleResumeRecurrence(c *fiber.Ctx) error {
	return recurrenceAction(c, recurrenceService.Resume)
}

// HandleCancelRecurrence terminates the recurrence for good.
// POST /api/v1/recurrences/:uuid/cancel
func HandleCancelRecurrence(c *fiber.Ctx) error {
	return recurrenceAction(c, recurrenceService.Cancel)
}

func recurrenceAction(c *fiber.Ctx, action func(context.Context, string, uint) (*models.DonationRecurrence, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rec, err := action(ctx, c.Params("uuid"), usercontext.GetUserID(c))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "recurrence_not_found"})
		case errors.Is(err, recurrence.ErrForbidden):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
		case errors.Is(err, recurrence.ErrIllegalTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "illegal_transition", "message": err.Error()})
		default:
			// Gateway failures land here; local state is untouched.
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_action_failed"})
		}
	}
	return c.JSON(fiber.Map{"recurrence": rec})
}

// HandleAdminListRecurrences lists all recurrences, paginated.
// GET /api/v1/admin/recurrences
func HandleAdminListRecurrences(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	recs, total, err := recurrenceService.List(c.Context(), offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "recurrence_list_failed"})
	}
	return c.JSON(fiber.Map{"recurrences": recs, "total": total})
}

// HandleAdminRecurrenceStats returns active-recurrence aggregates.
// GET /api/v1/admin/recurrences/stats
func HandleAdminRecurrenceStats(c *fiber.Ctx) error {
	stats, err := recurrenceService.GetStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}
	return c.JSON(stats)
}
