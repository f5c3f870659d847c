package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/nsem-asso/backoffice/app/models"
	"github.com/nsem-asso/backoffice/internal/pkg/database"
	"github.com/nsem-asso/backoffice/internal/pkg/receipt"
)

// HandleGetDonationReceipt returns the fiscal receipt of a donation.
// GET /api/v1/donations/:uuid/receipt
func HandleGetDonationReceipt(c *fiber.Ctx) error {
	d, err := donationService.Get(c.Context(), c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "donation_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_lookup_failed"})
	}

	rcpt, err := receiptAllocator.FindByDonation(database.GetDB(), d.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "receipt_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "receipt_lookup_failed"})
	}
	return c.JSON(fiber.Map{"receipt": rcpt})
}

// HandleAdminReissueReceipt allocates (or returns) the receipt of a completed
// donation whose allocation failed or was never requested in time.
// POST /api/v1/admin/donations/:uuid/receipt
func HandleAdminReissueReceipt(c *fiber.Ctx) error {
	d, err := donationService.Get(c.Context(), c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "donation_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_lookup_failed"})
	}

	rcpt, err := receiptAllocator.Allocate(database.GetDB(), d)
	if err != nil {
		if errors.Is(err, receipt.ErrNotEligible) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "donation_not_eligible", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "receipt_allocation_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"receipt": rcpt})
}

// HandleAdminAnnualReceipt issues the aggregate fiscal receipt of one donor
// for one year. POST /api/v1/admin/users/:id/receipts/annual?year=2026
func HandleAdminAnnualReceipt(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	year, err := strconv.Atoi(c.Query("year", strconv.Itoa(time.Now().Year()-1)))
	if err != nil || year < 2000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_year"})
	}

	db := database.GetDB()
	var user models.User
	if err := db.First(&user, uint(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user_lookup_failed"})
	}

	rcpt, err := receiptAllocator.AllocateAnnual(db, &user, year)
	if err != nil {
		if errors.Is(err, receipt.ErrNoDonations) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_completed_donations", "year": year})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "receipt_allocation_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"receipt": rcpt})
}
