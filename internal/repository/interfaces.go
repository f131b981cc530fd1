package repository

import (
	"context"
	"errors"

	"github.com/jwalitptl/prescription-api/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// NewEventFunc builds the outbox event for a record that has just been
// inserted (so its ID is set). Returning nil skips the event.
type NewEventFunc func(record *model.PrescriptionRecord) (*model.OutboxEvent, error)

// All repository interfaces in one file
type (
	UserRepository interface {
		FindDoctor(ctx context.Context, id int64) (*model.Doctor, error)
		GetByUsername(ctx context.Context, username string) (model.User, error)
		List(ctx context.Context) ([]model.User, error)
	}

	QueueRepository interface {
		FindPatientByQueueNumber(ctx context.Context, queueNumber string) (*model.Patient, error)
		List(ctx context.Context) ([]*model.QueueTicket, error)
	}

	PrescriptionRepository interface {
		// Create inserts record and, in the same transaction, the event built
		// by newEvent.
		Create(ctx context.Context, record *model.PrescriptionRecord, newEvent NewEventFunc) error
		Get(ctx context.Context, id int64) (*model.PrescriptionRecord, error)
		List(ctx context.Context) ([]*model.PrescriptionRecord, error)
		ExistsByFilename(ctx context.Context, filename string) (bool, error)
		UpdateStatus(ctx context.Context, id int64, status string) error
	}

	OutboxRepository interface {
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id string, at model.Timestamp) error
		MarkFailed(ctx context.Context, id string, errorMessage string) error
	}
)
