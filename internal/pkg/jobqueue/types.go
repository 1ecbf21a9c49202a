package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeFulfillment    JobType = "fulfillment"
	JobTypeReconcileOwner JobType = "reconcile_owner"
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

// MarkAsProcessing transitions the job into the processing state.
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// MarkAsCompleted transitions the job into the completed state.
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkAsFailed records a failure and bumps the retry counter.
func (j *Job) MarkAsFailed(msg string) {
	j.Status = JobStatusFailed
	j.ErrorMsg = msg
	j.RetryCount++
	j.UpdatedAt = time.Now()
}

// MarkAsRetrying transitions a failed job into the retrying state.
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// IsRetryable reports whether the job has retry budget left.
func (j *Job) IsRetryable() bool {
	return j.RetryCount <= j.MaxRetries
}

// FulfillmentJobPayload carries a completed payment to the background
// worker. Metadata is the encoded ledger metadata blob; the claim guard
// inside the fulfillment run makes redelivered jobs harmless.
type FulfillmentJobPayload struct {
	PaymentID string `json:"payment_id"`
	Metadata  string `json:"metadata"`
}

// ToMap converts the payload to a map for storage
func (p FulfillmentJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"payment_id": p.PaymentID,
		"metadata":   p.Metadata,
	}
}

// FulfillmentJobPayloadFromMap creates a payload from a map
func FulfillmentJobPayloadFromMap(data map[string]interface{}) (*FulfillmentJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload FulfillmentJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ReconcileOwnerJobPayload requests a reconciliation pass for one user.
type ReconcileOwnerJobPayload struct {
	OwnerID int64 `json:"owner_id"`
}

// ToMap converts the payload to a map for storage
func (p ReconcileOwnerJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"owner_id": p.OwnerID,
	}
}

// ReconcileOwnerJobPayloadFromMap creates a payload from a map
func ReconcileOwnerJobPayloadFromMap(data map[string]interface{}) (*ReconcileOwnerJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ReconcileOwnerJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}
