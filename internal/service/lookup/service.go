package lookup

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jwalitptl/prescription-api/internal/model"
	"github.com/jwalitptl/prescription-api/internal/repository"
	apperrors "github.com/jwalitptl/prescription-api/pkg/errors"
)

const patientNotFound = "patient not found for ticket"

type LookupServicer interface {
	FindDoctor(ctx context.Context, doctorID string) (*model.Doctor, error)
	FindPatientByQueueNumber(ctx context.Context, queueNumber string) (*model.Patient, error)
}

// Service resolves doctors and ticket holders. Every call reads storage.
type Service struct {
	users  repository.UserRepository
	queues repository.QueueRepository
}

func NewService(users repository.UserRepository, queues repository.QueueRepository) *Service {
	return &Service{
		users:  users,
		queues: queues,
	}
}

// FindDoctor returns the doctor with the given id. Ids that do not parse,
// do not exist, or belong to another role are all reported as not found.
func (s *Service) FindDoctor(ctx context.Context, doctorID string) (*model.Doctor, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(doctorID), 10, 64)
	if err != nil {
		return nil, apperrors.NotFound("doctor", err)
	}

	doctor, err := s.users.FindDoctor(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("doctor", err)
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load doctor", err)
	}
	return doctor, nil
}

func (s *Service) FindPatientByQueueNumber(ctx context.Context, queueNumber string) (*model.Patient, error) {
	patient, err := s.queues.FindPatientByQueueNumber(ctx, queueNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &apperrors.AppError{Code: apperrors.ErrNotFound, Message: patientNotFound, Err: err}
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load patient", err)
	}
	return patient, nil
}
