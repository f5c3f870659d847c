package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeDonationConfirmation JobType = "donation_confirmation"
	JobTypePaymentFailureNotice JobType = "payment_failure_notice"
	JobTypeRecurrenceCancel     JobType = "recurrence_cancel_notice"
	JobTypeBillingFailureNotice JobType = "billing_failure_notice"
	JobTypeSearchIndex          JobType = "search_index"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// DonationEmailJobPayload carries everything the mailer needs for a donation
// email; the payload is self-contained so workers never touch the DB.
type DonationEmailJobPayload struct {
	DonationID    uint   `json:"donation_id"`
	Email         string `json:"email"`
	DonorName     string `json:"donor_name"`
	Amount        string `json:"amount"`
	ProjectTitle  string `json:"project_title"`
	ReceiptNumber string `json:"receipt_number"`
}

// ToMap converts the payload to a map for storage
func (p DonationEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"donation_id":    p.DonationID,
		"email":          p.Email,
		"donor_name":     p.DonorName,
		"amount":         p.Amount,
		"project_title":  p.ProjectTitle,
		"receipt_number": p.ReceiptNumber,
	}
}

// FromMap creates a payload from a map
func DonationEmailJobPayloadFromMap(data map[string]interface{}) (*DonationEmailJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload DonationEmailJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// RecurrenceEmailJobPayload carries the data for recurrence lifecycle emails.
type RecurrenceEmailJobPayload struct {
	RecurrenceID uint   `json:"recurrence_id"`
	Email        string `json:"email"`
	DonorName    string `json:"donor_name"`
	Amount       string `json:"amount"`
	Frequency    string `json:"frequency"`
	ProjectTitle string `json:"project_title"`
}

// ToMap converts the payload to a map for storage
func (p RecurrenceEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"recurrence_id": p.RecurrenceID,
		"email":         p.Email,
		"donor_name":    p.DonorName,
		"amount":        p.Amount,
		"frequency":     p.Frequency,
		"project_title": p.ProjectTitle,
	}
}

// FromMap creates a payload from a map
func RecurrenceEmailJobPayloadFromMap(data map[string]interface{}) (*RecurrenceEmailJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload RecurrenceEmailJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// SearchIndexJobPayload asks the indexer to refresh one entity. Indexing is
// strictly out-of-band: ledger transactions only enqueue, never index.
type SearchIndexJobPayload struct {
	Entity   string `json:"entity"`
	EntityID uint   `json:"entity_id"`
	Action   string `json:"action"`
}

// ToMap converts the payload to a map for storage
func (p SearchIndexJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"entity":    p.Entity,
		"entity_id": p.EntityID,
		"action":    p.Action,
	}
}

// FromMap creates a payload from a map
func SearchIndexJobPayloadFromMap(data map[string]interface{}) (*SearchIndexJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload SearchIndexJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
