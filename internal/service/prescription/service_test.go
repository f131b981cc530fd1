package prescription

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/prescription-api/internal/model"
	"github.com/jwalitptl/prescription-api/internal/repository"
	"github.com/jwalitptl/prescription-api/internal/repository/sqlstore"
	"github.com/jwalitptl/prescription-api/internal/service/lookup"
	"github.com/jwalitptl/prescription-api/internal/storage"
	"github.com/jwalitptl/prescription-api/internal/testutil"
	apperrors "github.com/jwalitptl/prescription-api/pkg/errors"
	"github.com/jwalitptl/prescription-api/pkg/metrics"
)

const outputDir = "temp_prescriptions"

// 16:30:00 in Asia/Jakarta
var fixedNow = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	svc     *Service
	db      *sqlx.DB
	fs      afero.Fs
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, wrap func(repository.PrescriptionRepository) repository.PrescriptionRepository) *testEnv {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	db := testutil.NewSeededDB(t, fixedNow)
	fs := afero.NewMemMapFs()
	m := metrics.New(prometheus.NewRegistry(), "test")

	var records repository.PrescriptionRepository = sqlstore.NewPrescriptionRepository(db)
	if wrap != nil {
		records = wrap(records)
	}

	svc := NewService(
		lookup.NewService(sqlstore.NewUserRepository(db), sqlstore.NewQueueRepository(db)),
		records,
		storage.NewStore(fs, outputDir, time.Second),
		m,
		zerolog.Nop(),
		Config{
			Location: loc,
			Timeout:  time.Second,
			Now:      func() time.Time { return fixedNow },
		},
	)
	return &testEnv{svc: svc, db: db, fs: fs, metrics: m}
}

func (e *testEnv) artifacts(t *testing.T) []string {
	t.Helper()
	infos, err := afero.ReadDir(e.fs, outputDir)
	if errors.Is(err, afero.ErrFileNotFound) {
		return nil
	}
	require.NoError(t, err)

	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func sampleRequest() *model.GeneratePrescriptionRequest {
	return &model.GeneratePrescriptionRequest{
		DoctorID:    "1",
		QueueNumber: "A001",
		Medications: []model.Medication{
			{DrugName: "Amoxicillin", DosageForm: "tablet", Container: "strip", Quantity: "10", Frequency: "3x1", Dose: "500mg", Note: "after meals"},
			{DrugName: "   ", DosageForm: "tablet"},
			{DrugName: "Paracetamol", DosageForm: "tablet", Container: "box", Quantity: "5", Frequency: "3x1", Dose: "500mg", Note: "if fever"},
		},
	}
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t, nil)

	result, err := env.svc.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^prescription_A001_\d{14}\.pdf$`), result.Filename)
	assert.Equal(t, "prescription_A001_20240517163000.pdf", result.Filename)
	assert.Equal(t, result.Filename, result.Record.DocumentFilename)
	assert.Equal(t, "2024-05-17 16:30:00", result.Record.CreatedAt.String())
	assert.Equal(t, model.PrescriptionStatusPending, result.Record.Status)
	assert.Equal(t, 2, result.Record.MedicationCount)
	assert.NotZero(t, result.Record.ID)

	data, err := afero.ReadFile(env.fs, filepath.Join(outputDir, result.Filename))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
	assert.Equal(t, len(data), result.Size)
	assert.Contains(t, string(data), "2024-05-17 16:30:00")
	assert.Contains(t, string(data), "R/ Amoxicillin")
	assert.Contains(t, string(data), "Name    : Budi Santoso")

	assert.Equal(t, 1, env.count(t, "prescription_records"))
	assert.Equal(t, 1, env.count(t, "outbox_events"))
	assert.Equal(t, float64(1), promtest.ToFloat64(env.metrics.PrescriptionsGenerated))
}

func TestGenerateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*model.GeneratePrescriptionRequest)
		message    string
		badRequest bool
	}{
		{
			name:       "empty ticket",
			modify:     func(r *model.GeneratePrescriptionRequest) { r.QueueNumber = "" },
			message:    "invalid ticket",
			badRequest: true,
		},
		{
			name:       "whitespace ticket",
			modify:     func(r *model.GeneratePrescriptionRequest) { r.QueueNumber = "   " },
			message:    "invalid ticket",
			badRequest: true,
		},
		{
			name:    "unknown ticket",
			modify:  func(r *model.GeneratePrescriptionRequest) { r.QueueNumber = "Q404" },
			message: "patient not found for ticket",
		},
		{
			name:    "unknown doctor",
			modify:  func(r *model.GeneratePrescriptionRequest) { r.DoctorID = "999" },
			message: "doctor not found",
		},
		{
			name:    "patient as doctor",
			modify:  func(r *model.GeneratePrescriptionRequest) { r.DoctorID = "2" },
			message: "doctor not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := sampleRequest()
			tt.modify(req)

			_, err := env.svc.Generate(context.Background(), req)
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.message, appErr.Message)
			assert.Equal(t, tt.badRequest, apperrors.IsBadRequest(err))
			assert.Equal(t, !tt.badRequest, apperrors.IsNotFound(err))

			assert.Empty(t, env.artifacts(t))
			assert.Equal(t, 0, env.count(t, "prescription_records"))
		})
	}
}

func TestGenerateWithoutMedications(t *testing.T) {
	env := newTestEnv(t, nil)
	req := sampleRequest()
	req.Medications = []model.Medication{{DrugName: ""}, {DrugName: "\t"}}

	result, err := env.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Record.MedicationCount)
	assert.Len(t, env.artifacts(t), 1)
}

func TestGenerateAdvancesStampOnCollision(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.svc.Generate(ctx, sampleRequest())
	require.NoError(t, err)
	second, err := env.svc.Generate(ctx, sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "prescription_A001_20240517163000.pdf", first.Filename)
	assert.Equal(t, "prescription_A001_20240517163001.pdf", second.Filename)
	assert.Equal(t, "2024-05-17 16:30:01", second.Record.CreatedAt.String())

	data, err := afero.ReadFile(env.fs, filepath.Join(outputDir, second.Filename))
	require.NoError(t, err)
	assert.Contains(t, string(data), "2024-05-17 16:30:01")

	assert.Equal(t, 2, env.count(t, "prescription_records"))
}

func TestGenerateSkipsNamesHeldByRecords(t *testing.T) {
	env := newTestEnv(t, nil)

	// a record whose artifact was lost still owns its name
	_, err := env.db.Exec(`INSERT INTO prescription_records (document_filename, created_at) VALUES ('prescription_A001_20240517163000.pdf', '2024-05-17 16:30:00')`)
	require.NoError(t, err)

	result, err := env.svc.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "prescription_A001_20240517163001.pdf", result.Filename)
}

type failingRecords struct {
	repository.PrescriptionRepository
	err error
}

func (f *failingRecords) Create(context.Context, *model.PrescriptionRecord, repository.NewEventFunc) error {
	return f.err
}

func TestGenerateRemovesArtifactWhenInsertFails(t *testing.T) {
	env := newTestEnv(t, func(r repository.PrescriptionRepository) repository.PrescriptionRepository {
		return &failingRecords{PrescriptionRepository: r, err: errors.New("database is locked")}
	})

	_, err := env.svc.Generate(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, apperrors.ErrInternal, apperrors.CodeOf(err))

	assert.Empty(t, env.artifacts(t))
	assert.Equal(t, float64(1), promtest.ToFloat64(env.metrics.PrescriptionsFailed.WithLabelValues("record")))
}

func TestGetAndOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	result, err := env.svc.Generate(ctx, sampleRequest())
	require.NoError(t, err)

	record, err := env.svc.Get(ctx, result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Filename, record.DocumentFilename)

	_, f, err := env.svc.Open(ctx, result.Record.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	f.Close()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	_, err = env.svc.Get(ctx, 999)
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, env.fs.Remove(filepath.Join(outputDir, result.Filename)))
	_, _, err = env.svc.Open(ctx, result.Record.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReconcile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	kept, err := env.svc.Generate(ctx, sampleRequest())
	require.NoError(t, err)
	lost, err := env.svc.Generate(ctx, sampleRequest())
	require.NoError(t, err)

	require.NoError(t, env.fs.Remove(filepath.Join(outputDir, lost.Filename)))
	orphan := "prescription_B002_20240101000000.pdf"
	require.NoError(t, afero.WriteFile(env.fs, filepath.Join(outputDir, orphan), []byte("%PDF"), 0o644))
	require.NoError(t, afero.WriteFile(env.fs, filepath.Join(outputDir, "notes.txt"), []byte("keep"), 0o644))
	require.NoError(t, afero.WriteFile(env.fs, filepath.Join(outputDir, ".tmp-interrupted"), []byte("half"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, env.fs.Chtimes(filepath.Join(outputDir, ".tmp-interrupted"), old, old))

	// still being written or recorded by another process
	inFlight := "prescription_C003_20240517163000.pdf"
	require.NoError(t, afero.WriteFile(env.fs, filepath.Join(outputDir, inFlight), []byte("%PDF"), 0o644))
	require.NoError(t, afero.WriteFile(env.fs, filepath.Join(outputDir, ".tmp-live"), []byte("half"), 0o644))

	report, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, report.OrphansRemoved)
	assert.Equal(t, []int64{lost.Record.ID}, report.MarkedFailed)
	assert.Equal(t, 1, report.TempRemoved)

	assert.ElementsMatch(t, []string{kept.Filename, "notes.txt", inFlight, ".tmp-live"}, env.artifacts(t))

	record, err := env.svc.Get(ctx, lost.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusGenerationFailed, record.Status)

	record, err = env.svc.Get(ctx, kept.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusPending, record.Status)

	again, err := env.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, again.Changed())
}

func TestGenerateMakesTicketCodesFileSafe(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.db.Exec(
		`INSERT INTO queue_tickets (patient_id, doctor_id, queue_number, created_at) VALUES (?, ?, ?, ?)`,
		testutil.PatientID, testutil.DoctorID, "B/12 x", "2024-05-17 08:00:00",
	)
	require.NoError(t, err)

	req := sampleRequest()
	req.QueueNumber = "B/12 x"
	result, err := env.svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "prescription_B-12-x_20240517163000.pdf", result.Filename)
	assert.True(t, artifactPattern.MatchString(result.Filename))
}

func TestFileSafe(t *testing.T) {
	tests := map[string]string{
		"A001":   "A001",
		"b-07":   "b-07",
		"B/12":   "B-12",
		"../x":   "---x",
		"Antrée": "Antr-e",
	}
	for in, want := range tests {
		assert.Equal(t, want, fileSafe(in), in)
	}
}

// stalledLookup never answers until its context ends.
type stalledLookup struct{}

func (stalledLookup) FindDoctor(ctx context.Context, _ string) (*model.Doctor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledLookup) FindPatientByQueueNumber(ctx context.Context, _ string) (*model.Patient, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGenerateBoundsLookups(t *testing.T) {
	svc := NewService(
		stalledLookup{},
		nil,
		storage.NewStore(afero.NewMemMapFs(), outputDir, time.Second),
		metrics.New(prometheus.NewRegistry(), "test"),
		zerolog.Nop(),
		Config{Timeout: 20 * time.Millisecond},
	)

	start := time.Now()
	_, err := svc.Generate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
