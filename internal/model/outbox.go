package model

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

const EventPrescriptionCreated = "prescription.created"

type OutboxEvent struct {
	ID           string     `db:"id" json:"id"`
	EventType    string     `db:"event_type" json:"event_type"`
	Payload      []byte     `db:"payload" json:"payload"`
	Status       string     `db:"status" json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int        `db:"retry_count" json:"retry_count"`
	CreatedAt    Timestamp  `db:"created_at" json:"created_at"`
	ProcessedAt  *Timestamp `db:"processed_at" json:"processed_at,omitempty"`
}
