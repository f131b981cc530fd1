package model

// QueueTicket links one patient visit to the doctor seeing them.
// QueueNumber is the human-facing code printed on the ticket, e.g. "A001".
type QueueTicket struct {
	ID          int64     `db:"id" json:"id"`
	PatientID   int64     `db:"patient_id" json:"patient_id"`
	DoctorID    int64     `db:"doctor_id" json:"doctor_id"`
	QueueNumber string    `db:"queue_number" json:"queue_number"`
	CreatedAt   Timestamp `db:"created_at" json:"created_at"`
}
