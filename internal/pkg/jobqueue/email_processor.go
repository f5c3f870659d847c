package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/nsem-asso/backoffice/internal/pkg/mail"
)

// sendMail is a seam for tests; production uses the SMTP mailer.
var sendMail = mail.SendMail

// processDonationConfirmationJob sends the thank-you email after a donation
// completed. The receipt number line is only present when a receipt was
// issued.
func (q *Queue) processDonationConfirmationJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := DonationEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid donation confirmation payload: %w", err)
	}
	if payload.Email == "" {
		log.Warnf("[JobQueue] Donation %d has no donor email, skipping confirmation", payload.DonationID)
		return nil
	}

	subject := "Merci pour votre don"
	body := fmt.Sprintf("<p>Bonjour %s,</p>", payload.DonorName) +
		fmt.Sprintf("<p>Nous avons bien re&ccedil;u votre don de %s&nbsp;&euro;.", payload.Amount)
	if payload.ProjectTitle != "" {
		body += fmt.Sprintf(" Il sera affect&eacute; au projet &laquo;&nbsp;%s&nbsp;&raquo;.", payload.ProjectTitle)
	}
	body += "</p>"
	if payload.ReceiptNumber != "" {
		body += fmt.Sprintf("<p>Votre re&ccedil;u fiscal porte le num&eacute;ro %s.</p>", payload.ReceiptNumber)
	}
	body += "<p>Toute l'&eacute;quipe vous remercie de votre soutien.</p>"

	return sendMail(payload.Email, subject, body)
}

// processPaymentFailureJob notifies the donor that a one-time payment did not
// go through.
func (q *Queue) processPaymentFailureJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := DonationEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payment failure payload: %w", err)
	}
	if payload.Email == "" {
		log.Warnf("[JobQueue] Donation %d has no donor email, skipping failure notice", payload.DonationID)
		return nil
	}

	subject := "Votre don n'a pas pu aboutir"
	body := fmt.Sprintf("<p>Bonjour %s,</p>", payload.DonorName) +
		fmt.Sprintf("<p>Le paiement de votre don de %s&nbsp;&euro; a &eacute;t&eacute; refus&eacute; par votre banque.", payload.Amount) +
		" Aucun montant n'a &eacute;t&eacute; pr&eacute;lev&eacute;. Vous pouvez renouveler votre don &agrave; tout moment.</p>"

	return sendMail(payload.Email, subject, body)
}

// processBillingFailureJob notifies the donor that a recurring billing cycle
// failed; the gateway keeps retrying on its own schedule.
func (q *Queue) processBillingFailureJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := RecurrenceEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid billing failure payload: %w", err)
	}
	if payload.Email == "" {
		log.Warnf("[JobQueue] Recurrence %d has no donor email, skipping billing notice", payload.RecurrenceID)
		return nil
	}

	subject := "&Eacute;chec du pr&eacute;l&egrave;vement de votre don r&eacute;gulier"
	body := fmt.Sprintf("<p>Bonjour %s,</p>", payload.DonorName) +
		fmt.Sprintf("<p>Le pr&eacute;l&egrave;vement de %s&nbsp;&euro; de votre don r&eacute;gulier n'a pas abouti.", payload.Amount) +
		" Une nouvelle tentative sera effectu&eacute;e automatiquement. Pensez &agrave; v&eacute;rifier votre moyen de paiement.</p>"

	return sendMail(payload.Email, subject, body)
}

// processRecurrenceCancelJob confirms the cancellation of a recurring
// donation.
func (q *Queue) processRecurrenceCancelJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := RecurrenceEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid recurrence cancel payload: %w", err)
	}
	if payload.Email == "" {
		log.Warnf("[JobQueue] Recurrence %d has no donor email, skipping cancel notice", payload.RecurrenceID)
		return nil
	}

	subject := "Votre don r&eacute;gulier a &eacute;t&eacute; r&eacute;sili&eacute;"
	body := fmt.Sprintf("<p>Bonjour %s,</p>", payload.DonorName) +
		fmt.Sprintf("<p>Votre don r&eacute;gulier de %s&nbsp;&euro; a bien &eacute;t&eacute; r&eacute;sili&eacute;.", payload.Amount) +
		" Aucun nouveau pr&eacute;l&egrave;vement n'aura lieu. Merci pour le soutien que vous nous avez apport&eacute;.</p>"

	return sendMail(payload.Email, subject, body)
}
