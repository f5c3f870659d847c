package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gofiber/fiber/v2/log"

	"github.com/nsem-asso/backoffice/internal/pkg/hcaptcha"
	"github.com/nsem-asso/backoffice/internal/pkg/ledger"
	"github.com/nsem-asso/backoffice/internal/pkg/usercontext"
)

// CreateDonationRequest opens a one-time donation. Anonymous donors supply a
// snapshot of their identity; logged-in donors may omit it.
type CreateDonationRequest struct {
	Amount           string `json:"amount" validate:"required"`
	ProjectID        *uint  `json:"project_id"`
	ReceiptRequested bool   `json:"receipt_requested"`
	DonorEmail       string `json:"donor_email" validate:"omitempty,email"`
	DonorFirstName   string `json:"donor_first_name" validate:"max=100"`
	DonorLastName    string `json:"donor_last_name" validate:"max=100"`
	DonorAddress     string `json:"donor_address" validate:"max=255"`
	DonorPostalCode  string `json:"donor_postal_code" validate:"max=20"`
	DonorCity        string `json:"donor_city" validate:"max=100"`
	CaptchaToken     string `json:"captcha_token"`
}

// HandleCreateDonation opens a payment intent and its PENDING donation row.
// POST /api/v1/donations
func HandleCreateDonation(c *fiber.Ctx) error {
	var req CreateDonationRequest
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

	userCtx := usercontext.GetUserContext(c)

	// Captcha guards the anonymous path against scripted card testing.
	if hcaptcha.Enabled() && !userCtx.IsLoggedIn {
		if ok, err := hcaptcha.Verify(req.CaptchaToken); !ok {
			log.Warnf("[Donation] Captcha verification failed: %v", err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":   "captcha_failed",
				"message": "captcha verification failed",
			})
		}
	}

	in := ledger.OpenInput{
		DonorEmail:       req.DonorEmail,
		DonorFirstName:   req.DonorFirstName,
		DonorLastName:    req.DonorLastName,
		DonorAddress:     req.DonorAddress,
		DonorPostalCode:  req.DonorPostalCode,
		DonorCity:        req.DonorCity,
		Amount:           amount,
		ProjectID:        req.ProjectID,
		ReceiptRequested: req.ReceiptRequested,
	}
	if userCtx.IsLoggedIn {
		uid := userCtx.UserID
		in.UserID = &uid
		if in.DonorEmail == "" {
			in.DonorEmail = userCtx.Email
		}
	} else if req.DonorEmail == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "donor_email is required for anonymous donations",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := donationService.OpenIntent(ctx, in)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidProject) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "project_not_accepting_funds"})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "donation_open_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"donation":      result.Donation,
		"client_secret": result.ClientSecret,
	})
}

// HandleGetDonation returns one donation by its public identifier. The UUID
// acts as the capability; the row carries no payment credentials.
// GET /api/v1/donations/:uuid
func HandleGetDonation(c *fiber.Ctx) error {
	d, err := donationService.Get(c.Context(), c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "donation_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_lookup_failed"})
	}
	return c.JSON(fiber.Map{"donation": d})
}

// HandleMyDonations lists the requester's donations, newest first.
// GET /api/v1/me/donations
func HandleMyDonations(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	donations, total, err := donationService.ListMine(c.Context(), usercontext.GetUserID(c), offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_list_failed"})
	}
	return c.JSON(fiber.Map{"donations": donations, "total": total})
}

// HandleAdminListDonations lists all donations, optionally filtered by
// status. GET /api/v1/admin/donations
func HandleAdminListDonations(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	donations, total, err := donationService.List(c.Context(), c.Query("status"), offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_list_failed"})
	}
	return c.JSON(fiber.Map{"donations": donations, "total": total})
}

// HandleAdminDonationStats returns completed-donation aggregates.
// GET /api/v1/admin/donations/stats
func HandleAdminDonationStats(c *fiber.Ctx) error {
	stats, err := donationService.GetStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}
	return c.JSON(stats)
}

// HandleAdminValidateDonation manually confirms a PENDING donation (offline
// payments, bank transfers). Uses the same guarded transition as the webhook
// path, so a racing gateway confirmation cannot double-complete.
// POST /api/v1/admin/donations/:uuid/validate
func HandleAdminValidateDonation(c *fiber.Ctx) error {
	d, err := donationService.Get(c.Context(), c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "donation_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_lookup_failed"})
	}

	d, err = donationService.Complete(c.Context(), d.ID, "", time.Now())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_validate_failed"})
	}
	return c.JSON(fiber.Map{"donation": d})
}

// HandleAdminRejectDonation cancels a PENDING donation.
// POST /api/v1/admin/donations/:uuid/reject
func HandleAdminRejectDonation(c *fiber.Ctx) error {
	d, err := donationService.Get(c.Context(), c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "donation_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_lookup_failed"})
	}

	d, err = donationService.Cancel(c.Context(), d.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_reject_failed"})
	}
	return c.JSON(fiber.Map{"donation": d})
}

// HandleAdminRefundDonation moves a COMPLETED donation to REFUNDED and
// cancels its receipt. The project fund counter is not decremented.
// POST /api/v1/admin/donations/:uuid/refund
func HandleAdminRefundDonation(c *fiber.Ctx) error {
	d, err := donationService.Get(c.Context(), c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "donation_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_lookup_failed"})
	}

	d, err = donationService.Refund(c.Context(), d.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrIllegalTransition) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "donation_not_refundable"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "donation_refund_failed"})
	}
	return c.JSON(fiber.Map{"donation": d})
}
