package jobqueue

import (
	"github.com/gofiber/fiber/v2/log"

	"github.com/nsem-asso/backoffice/app/models"
)

// QueueNotifier turns donation and recurrence lifecycle events into queued
// email jobs. Enqueue failures are logged and swallowed: a broken queue must
// never fail a payment transition.
type QueueNotifier struct {
	queue *Queue
}

// NewQueueNotifier creates a notifier that enqueues on the given queue.
func NewQueueNotifier(queue *Queue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (n *QueueNotifier) DonationCompleted(d *models.Donation) {
	payload := DonationEmailJobPayload{
		DonationID:    d.ID,
		Email:         d.NotificationEmail(),
		DonorName:     d.DonorName(),
		Amount:        d.Amount.StringFixed(2),
		ReceiptNumber: d.ReceiptNumber,
	}
	if d.Project != nil {
		payload.ProjectTitle = d.Project.Name
	}
	if _, err := n.queue.EnqueueJob(JobTypeDonationConfirmation, payload.ToMap()); err != nil {
		log.Errorf("[Notifier] Failed to enqueue confirmation for donation %d: %v", d.ID, err)
	}

	index := SearchIndexJobPayload{Entity: "donations", EntityID: d.ID, Action: "upsert"}
	if _, err := n.queue.EnqueueJob(JobTypeSearchIndex, index.ToMap()); err != nil {
		log.Errorf("[Notifier] Failed to enqueue index refresh for donation %d: %v", d.ID, err)
	}
}

func (n *QueueNotifier) DonationFailed(d *models.Donation) {
	payload := DonationEmailJobPayload{
		DonationID: d.ID,
		Email:      d.NotificationEmail(),
		DonorName:  d.DonorName(),
		Amount:     d.Amount.StringFixed(2),
	}
	if _, err := n.queue.EnqueueJob(JobTypePaymentFailureNotice, payload.ToMap()); err != nil {
		log.Errorf("[Notifier] Failed to enqueue failure notice for donation %d: %v", d.ID, err)
	}
}

func (n *QueueNotifier) BillingCycleFailed(rec *models.DonationRecurrence) {
	payload := recurrencePayload(rec)
	if _, err := n.queue.EnqueueJob(JobTypeBillingFailureNotice, payload.ToMap()); err != nil {
		log.Errorf("[Notifier] Failed to enqueue billing notice for recurrence %d: %v", rec.ID, err)
	}
}

func (n *QueueNotifier) RecurrenceCanceled(rec *models.DonationRecurrence) {
	payload := recurrencePayload(rec)
	if _, err := n.queue.EnqueueJob(JobTypeRecurrenceCancel, payload.ToMap()); err != nil {
		log.Errorf("[Notifier] Failed to enqueue cancel notice for recurrence %d: %v", rec.ID, err)
	}
}

func recurrencePayload(rec *models.DonationRecurrence) RecurrenceEmailJobPayload {
	payload := RecurrenceEmailJobPayload{
		RecurrenceID: rec.ID,
		Amount:       rec.Amount.StringFixed(2),
		Frequency:    rec.Frequency,
	}
	if rec.User != nil {
		payload.Email = rec.User.Email
		payload.DonorName = rec.User.FullName()
	}
	if rec.Project != nil {
		payload.ProjectTitle = rec.Project.Name
	}
	return payload
}
