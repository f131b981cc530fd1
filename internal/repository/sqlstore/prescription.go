package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/prescription-api/internal/model"
	"github.com/jwalitptl/prescription-api/internal/repository"
)

const prescriptionColumns = `id, document_filename, created_at, status, medication_count`

type prescriptionRepository struct {
	BaseRepository
}

func NewPrescriptionRepository(db *sqlx.DB) repository.PrescriptionRepository {
	return &prescriptionRepository{NewBaseRepository(db)}
}

func (r *prescriptionRepository) Create(ctx context.Context, record *model.PrescriptionRecord, newEvent repository.NewEventFunc) error {
	if record.Status == "" {
		record.Status = model.PrescriptionStatusPending
	}

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO prescription_records (document_filename, created_at, status, medication_count)
			VALUES (?, ?, ?, ?)
			RETURNING id
		`)
		err := tx.QueryRowxContext(ctx, query,
			record.DocumentFilename,
			record.CreatedAt,
			record.Status,
			record.MedicationCount,
		).Scan(&record.ID)
		if err != nil {
			return fmt.Errorf("failed to create prescription record: %w", err)
		}

		if newEvent == nil {
			return nil
		}
		event, err := newEvent(record)
		if err != nil {
			return fmt.Errorf("failed to build outbox event: %w", err)
		}
		if event == nil {
			return nil
		}
		return insertOutboxEvent(ctx, tx, event)
	})
}

func (r *prescriptionRepository) Get(ctx context.Context, id int64) (*model.PrescriptionRecord, error) {
	query := r.db.Rebind(`SELECT ` + prescriptionColumns + ` FROM prescription_records WHERE id = ?`)

	var record model.PrescriptionRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, fmt.Errorf("failed to get prescription record: %w", notFound(err))
	}
	return &record, nil
}

func (r *prescriptionRepository) List(ctx context.Context) ([]*model.PrescriptionRecord, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescription_records ORDER BY id`

	var records []*model.PrescriptionRecord
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("failed to list prescription records: %w", err)
	}
	return records, nil
}

func (r *prescriptionRepository) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM prescription_records WHERE document_filename = ?`)

	var count int
	if err := r.db.GetContext(ctx, &count, query, filename); err != nil {
		return false, fmt.Errorf("failed to check prescription filename: %w", err)
	}
	return count > 0, nil
}

func (r *prescriptionRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := r.db.Rebind(`UPDATE prescription_records SET status = ? WHERE id = ?`)

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update prescription status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
