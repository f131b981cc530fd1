package model

import "strings"

const (
	PrescriptionStatusPending          = "Pending"
	PrescriptionStatusGenerationFailed = "Generation Failed"
)

// PrescriptionRecord tracks one generated prescription document. It is tied
// to its ticket only through the queue number embedded in DocumentFilename.
type PrescriptionRecord struct {
	ID               int64     `db:"id" json:"id"`
	DocumentFilename string    `db:"document_filename" json:"document_filename"`
	CreatedAt        Timestamp `db:"created_at" json:"created_at"`
	Status           string    `db:"status" json:"status"`
	MedicationCount  int       `db:"medication_count" json:"medication_count"`
}

// Medication is one line item of a prescription.
type Medication struct {
	DrugName   string `json:"drug_name" binding:"max=200"`
	DosageForm string `json:"dosage_form" binding:"max=100"`
	Container  string `json:"container" binding:"max=100"`
	Quantity   string `json:"quantity" binding:"max=50"`
	Frequency  string `json:"frequency" binding:"max=100"`
	Dose       string `json:"dose" binding:"max=100"`
	Note       string `json:"note" binding:"max=500"`
}

// HasDrug reports whether the entry names a drug. Entries without one are
// dropped before rendering.
func (m Medication) HasDrug() bool {
	return strings.TrimSpace(m.DrugName) != ""
}

// GeneratePrescriptionRequest is what the doctor's form submits.
type GeneratePrescriptionRequest struct {
	DoctorID    string       `json:"doctor_id"`
	QueueNumber string       `json:"queue_number"`
	Medications []Medication `json:"medications" binding:"max=50,dive"`
}

// PrescriptionCreatedPayload is the outbox payload announcing a new record to
// the fulfillment side.
type PrescriptionCreatedPayload struct {
	RecordID         int64     `json:"record_id"`
	DocumentFilename string    `json:"document_filename"`
	QueueNumber      string    `json:"queue_number"`
	CreatedAt        Timestamp `json:"created_at"`
	MedicationCount  int       `json:"medication_count"`
}
