package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/prescription-api/internal/model"
	"github.com/jwalitptl/prescription-api/pkg/security"
)

// Demo fixtures inserted on first start.
const (
	SeedDoctorUsername  = "dokter1"
	SeedPatientUsername = "pasien1"
	SeedPassword        = "password123"
	SeedQueueNumber     = "A001"
)

var seedDoctor = model.Doctor{
	Account:         model.Account{Username: SeedDoctorUsername, Role: model.RoleDoctor},
	Name:            "Dr. Andi",
	LicenseNumber:   "SIP-001",
	HospitalName:    "RS Sehat Selalu",
	HospitalAddress: "Jl. Kesehatan No.1",
	HospitalContact: "021-1234567",
}

var seedPatient = model.Patient{
	Account: model.Account{Username: SeedPatientUsername, Role: model.RolePatient},
	Name:    "Budi Santoso",
	Age:     30,
	Gender:  "Laki-laki",
	Address: "Jl. Harmoni No. 2",
}

// SeedResult reports which fixtures were inserted by one EnsureSeedData call.
type SeedResult struct {
	DoctorCreated  bool
	PatientCreated bool
	TicketCreated  bool
}

func (r SeedResult) Changed() bool {
	return r.DoctorCreated || r.PatientCreated || r.TicketCreated
}

type Seeder struct {
	db     *sqlx.DB
	hasher security.Hasher
	now    func() time.Time
}

func NewSeeder(db *sqlx.DB, hasher security.Hasher, now func() time.Time) *Seeder {
	if now == nil {
		now = time.Now
	}
	return &Seeder{db: db, hasher: hasher, now: now}
}

// EnsureSeedData inserts the demo doctor, patient and ticket when absent.
// Existing rows are never modified. Ids are resolved by username, so a
// database with other users still gets a consistent ticket.
func (s *Seeder) EnsureSeedData(ctx context.Context) (SeedResult, error) {
	var result SeedResult

	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		doctorID, created, err := s.ensureUser(ctx, tx, SeedDoctorUsername, func(hash string) (string, []interface{}) {
			return `INSERT INTO users (username, password_hash, role, hospital_name, hospital_address, hospital_contact, license_number, doctor_name)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
				[]interface{}{
					seedDoctor.Username, hash, string(seedDoctor.Role),
					seedDoctor.HospitalName, seedDoctor.HospitalAddress, seedDoctor.HospitalContact,
					seedDoctor.LicenseNumber, seedDoctor.Name,
				}
		})
		if err != nil {
			return err
		}
		result.DoctorCreated = created

		patientID, created, err := s.ensureUser(ctx, tx, SeedPatientUsername, func(hash string) (string, []interface{}) {
			return `INSERT INTO users (username, password_hash, role, patient_name, patient_age, patient_gender, patient_address)
				VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
				[]interface{}{
					seedPatient.Username, hash, string(seedPatient.Role),
					seedPatient.Name, seedPatient.Age, seedPatient.Gender, seedPatient.Address,
				}
		})
		if err != nil {
			return err
		}
		result.PatientCreated = created

		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM queue_tickets WHERE queue_number = ?`), SeedQueueNumber); err != nil {
			return fmt.Errorf("failed to check seed ticket: %w", err)
		}
		if count > 0 {
			return nil
		}

		query := tx.Rebind(`INSERT INTO queue_tickets (patient_id, doctor_id, queue_number, created_at) VALUES (?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, query, patientID, doctorID, SeedQueueNumber, model.NewTimestamp(s.now())); err != nil {
			return fmt.Errorf("failed to insert seed ticket: %w", err)
		}
		result.TicketCreated = true
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return result, nil
}

// ensureUser returns the id of username, inserting it with the statement
// built by insert when it does not exist.
func (s *Seeder) ensureUser(ctx context.Context, tx *sqlx.Tx, username string, insert func(hash string) (string, []interface{})) (int64, bool, error) {
	var ids []int64
	if err := tx.SelectContext(ctx, &ids, tx.Rebind(`SELECT id FROM users WHERE username = ?`), username); err != nil {
		return 0, false, fmt.Errorf("failed to look up seed user %s: %w", username, err)
	}
	if len(ids) > 0 {
		return ids[0], false, nil
	}

	hash, err := s.hasher.Hash(SeedPassword)
	if err != nil {
		return 0, false, fmt.Errorf("failed to hash seed password: %w", err)
	}

	query, args := insert(hash)
	var id int64
	if err := tx.QueryRowxContext(ctx, tx.Rebind(query), args...).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("failed to insert seed user %s: %w", username, err)
	}
	return id, true, nil
}
