package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/prescription-api/internal/model"
	"github.com/jwalitptl/prescription-api/internal/repository"
)

type queueRepository struct {
	BaseRepository
}

func NewQueueRepository(db *sqlx.DB) repository.QueueRepository {
	return &queueRepository{NewBaseRepository(db)}
}

// FindPatientByQueueNumber resolves the patient holding the ticket. Queue
// numbers are unique, the ORDER BY only matters for databases created before
// that constraint existed.
func (r *queueRepository) FindPatientByQueueNumber(ctx context.Context, queueNumber string) (*model.Patient, error) {
	query := r.db.Rebind(`
		SELECT ` + userColumns + `
		FROM users u
		INNER JOIN queue_tickets q ON u.id = q.patient_id
		WHERE q.queue_number = ?
		ORDER BY q.id DESC
		LIMIT 1
	`)

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, queueNumber); err != nil {
		return nil, fmt.Errorf("failed to find patient by queue number: %w", notFound(err))
	}
	return row.patient(), nil
}

func (r *queueRepository) List(ctx context.Context) ([]*model.QueueTicket, error) {
	query := `SELECT id, patient_id, doctor_id, queue_number, created_at FROM queue_tickets ORDER BY id`

	var tickets []*model.QueueTicket
	if err := r.db.SelectContext(ctx, &tickets, query); err != nil {
		return nil, fmt.Errorf("failed to list queue tickets: %w", err)
	}
	return tickets, nil
}
