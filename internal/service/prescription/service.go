package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/jwalitptl/prescription-api/internal/model"
	"github.com/jwalitptl/prescription-api/internal/render"
	"github.com/jwalitptl/prescription-api/internal/repository"
	"github.com/jwalitptl/prescription-api/internal/service/lookup"
	"github.com/jwalitptl/prescription-api/internal/storage"
	apperrors "github.com/jwalitptl/prescription-api/pkg/errors"
	"github.com/jwalitptl/prescription-api/pkg/metrics"
)

const (
	filenameStampLayout = "20060102150405"
	maxNameAttempts     = 60
)

// ArtifactStore is where rendered documents live. *storage.Store implements it.
type ArtifactStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) (afero.File, error)
	Exists(ctx context.Context, name string) (bool, error)
	Remove(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
	RemoveTemp(ctx context.Context, minAge time.Duration) (int, error)
}

type PrescriptionServicer interface {
	Generate(ctx context.Context, req *model.GeneratePrescriptionRequest) (*Result, error)
	Get(ctx context.Context, id int64) (*model.PrescriptionRecord, error)
	Open(ctx context.Context, id int64) (*model.PrescriptionRecord, afero.File, error)
	Reconcile(ctx context.Context) (*ReconcileReport, error)
}

// Result is a recorded prescription and the artifact backing it.
type Result struct {
	Record   *model.PrescriptionRecord `json:"record"`
	Filename string                    `json:"filename"`
	Size     int                       `json:"size"`
}

type Config struct {
	Location *time.Location
	Render   render.Options
	// Timeout bounds every storage and filesystem call.
	Timeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// ReconcileGrace keeps Reconcile away from files younger than this, which
	// another process may still be recording. Defaults to a minute.
	ReconcileGrace time.Duration
}

type Service struct {
	lookup  lookup.LookupServicer
	records repository.PrescriptionRepository
	store   ArtifactStore
	metrics *metrics.Metrics
	logger  zerolog.Logger

	loc        *time.Location
	renderOpts render.Options
	timeout    time.Duration
	now        func() time.Time
	grace      time.Duration

	// mu serializes artifact writes and record inserts.
	mu sync.Mutex
}

func NewService(
	lookupSvc lookup.LookupServicer,
	records repository.PrescriptionRepository,
	store ArtifactStore,
	m *metrics.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReconcileGrace <= 0 {
		cfg.ReconcileGrace = time.Minute
	}

	return &Service{
		lookup:     lookupSvc,
		records:    records,
		store:      store,
		metrics:    m,
		logger:     logger.With().Str("component", "prescription").Logger(),
		loc:        cfg.Location,
		renderOpts: cfg.Render,
		timeout:    cfg.Timeout,
		now:        cfg.Now,
		grace:      cfg.ReconcileGrace,
	}
}

// Generate renders the prescription for the ticket holder, stores the
// document and records it. Nothing is written unless doctor and patient
// both resolve.
func (s *Service) Generate(ctx context.Context, req *model.GeneratePrescriptionRequest) (*Result, error) {
	queueNumber := strings.TrimSpace(req.QueueNumber)
	if queueNumber == "" {
		s.fail("invalid_ticket")
		return nil, apperrors.BadRequest("invalid ticket", nil)
	}

	doctor, patient, err := s.resolve(ctx, req.DoctorID, queueNumber)
	if err != nil {
		return nil, err
	}

	medications := make([]model.Medication, 0, len(req.Medications))
	for _, m := range req.Medications {
		if m.HasDrug() {
			medications = append(medications, m)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, createdAt, data, err := s.renderAndSave(ctx, queueNumber, model.NewTimestamp(s.now().In(s.loc)), render.Document{
		Doctor:      doctor,
		Patient:     patient,
		Medications: medications,
	})
	if err != nil {
		return nil, err
	}

	record := &model.PrescriptionRecord{
		DocumentFilename: name,
		CreatedAt:        createdAt,
		Status:           model.PrescriptionStatusPending,
		MedicationCount:  len(medications),
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.records.Create(dbCtx, record, newCreatedEvent(queueNumber)); err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("create_prescription", "error").Inc()
		s.fail("record")

		// the artifact must not outlive a failed insert
		if rmErr := s.store.Remove(context.WithoutCancel(ctx), name); rmErr != nil {
			s.logger.Error().Err(rmErr).Str("filename", name).Msg("Failed to remove artifact after insert failure")
		}
		return nil, apperrors.Internal("failed to record prescription", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("create_prescription", "success").Inc()
	s.metrics.PrescriptionsGenerated.Inc()

	s.logger.Info().
		Int64("record_id", record.ID).
		Str("filename", name).
		Str("queue_number", queueNumber).
		Int("medications", record.MedicationCount).
		Msg("Prescription generated")

	return &Result{Record: record, Filename: name, Size: len(data)}, nil
}

// renderAndSave picks a free artifact name, starting at stamp and moving
// forward one second per collision, renders the document with the chosen
// stamp and saves it.
func (s *Service) renderAndSave(ctx context.Context, queueNumber string, stamp model.Timestamp, doc render.Document) (string, model.Timestamp, []byte, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := filenameFor(queueNumber, stamp)

		taken, err := s.nameTaken(ctx, name)
		if err != nil {
			s.fail("storage")
			return "", stamp, nil, apperrors.Internal("failed to check artifact name", err)
		}
		if taken {
			stamp = model.NewTimestamp(stamp.Add(time.Second))
			continue
		}

		doc.CreatedAt = stamp
		start := time.Now()
		data, err := render.Render(doc, s.renderOpts)
		s.metrics.RenderLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			s.fail("render")
			return "", stamp, nil, apperrors.Internal("failed to render prescription", err)
		}

		err = s.store.Save(ctx, name, data)
		if errors.Is(err, storage.ErrExists) {
			stamp = model.NewTimestamp(stamp.Add(time.Second))
			continue
		}
		if err != nil {
			s.fail("storage")
			return "", stamp, nil, apperrors.Internal("failed to save prescription document", err)
		}
		return name, stamp, data, nil
	}

	s.fail("storage")
	return "", stamp, nil, apperrors.Internal("failed to save prescription document", fmt.Errorf("no free name for ticket %s after %d attempts", queueNumber, maxNameAttempts))
}

// resolve looks up the doctor, then the ticket holder, under the storage
// timeout.
func (s *Service) resolve(ctx context.Context, doctorID, queueNumber string) (*model.Doctor, *model.Patient, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doctor, err := s.lookup.FindDoctor(ctx, doctorID)
	if err != nil {
		s.fail("doctor")
		return nil, nil, err
	}

	patient, err := s.lookup.FindPatientByQueueNumber(ctx, queueNumber)
	if err != nil {
		s.fail("patient")
		return nil, nil, err
	}
	return doctor, patient, nil
}

func (s *Service) nameTaken(ctx context.Context, name string) (bool, error) {
	exists, err := s.store.Exists(ctx, name)
	if err != nil || exists {
		return exists, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.records.ExistsByFilename(dbCtx, name)
}

func (s *Service) Get(ctx context.Context, id int64) (*model.PrescriptionRecord, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.records.Get(dbCtx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("prescription", err)
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get prescription", err)
	}
	return record, nil
}

// Open returns the record and its document. The caller closes the file.
func (s *Service) Open(ctx context.Context, id int64) (*model.PrescriptionRecord, afero.File, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.store.Open(ctx, record.DocumentFilename)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, apperrors.NotFound("prescription document", err)
	}
	if err != nil {
		return nil, nil, apperrors.Internal("failed to open prescription document", err)
	}
	return record, f, nil
}

func (s *Service) fail(reason string) {
	s.metrics.PrescriptionsFailed.WithLabelValues(reason).Inc()
}

func filenameFor(queueNumber string, ts model.Timestamp) string {
	return fmt.Sprintf("prescription_%s_%s.pdf", fileSafe(queueNumber), ts.Format(filenameStampLayout))
}

// fileSafe maps every character outside [A-Za-z0-9-] to '-', so ticket codes
// like "B/12" still make a flat file name.
func fileSafe(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '-'
	}, code)
}

func newCreatedEvent(queueNumber string) repository.NewEventFunc {
	return func(record *model.PrescriptionRecord) (*model.OutboxEvent, error) {
		payload, err := json.Marshal(model.PrescriptionCreatedPayload{
			RecordID:         record.ID,
			DocumentFilename: record.DocumentFilename,
			QueueNumber:      queueNumber,
			CreatedAt:        record.CreatedAt,
			MedicationCount:  record.MedicationCount,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}

		return &model.OutboxEvent{
			ID:        uuid.NewString(),
			EventType: model.EventPrescriptionCreated,
			Payload:   payload,
			Status:    string(model.OutboxStatusPending),
			CreatedAt: record.CreatedAt,
		}, nil
	}
}
