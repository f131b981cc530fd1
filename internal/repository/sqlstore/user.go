package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/prescription-api/internal/model"
	"github.com/jwalitptl/prescription-api/internal/repository"
)

const userColumns = `u.id, u.username, u.password_hash, u.role,
	u.hospital_name, u.hospital_address, u.hospital_contact, u.license_number, u.doctor_name,
	u.patient_name, u.patient_age, u.patient_gender, u.patient_address`

// userRow mirrors the users table, where role-specific columns are nullable.
type userRow struct {
	ID              int64          `db:"id"`
	Username        string         `db:"username"`
	PasswordHash    string         `db:"password_hash"`
	Role            string         `db:"role"`
	HospitalName    sql.NullString `db:"hospital_name"`
	HospitalAddress sql.NullString `db:"hospital_address"`
	HospitalContact sql.NullString `db:"hospital_contact"`
	LicenseNumber   sql.NullString `db:"license_number"`
	DoctorName      sql.NullString `db:"doctor_name"`
	PatientName     sql.NullString `db:"patient_name"`
	PatientAge      sql.NullInt64  `db:"patient_age"`
	PatientGender   sql.NullString `db:"patient_gender"`
	PatientAddress  sql.NullString `db:"patient_address"`
}

func (u *userRow) account() model.Account {
	return model.Account{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         model.Role(u.Role),
	}
}

func (u *userRow) doctor() *model.Doctor {
	return &model.Doctor{
		Account:         u.account(),
		Name:            u.DoctorName.String,
		LicenseNumber:   u.LicenseNumber.String,
		HospitalName:    u.HospitalName.String,
		HospitalAddress: u.HospitalAddress.String,
		HospitalContact: u.HospitalContact.String,
	}
}

func (u *userRow) patient() *model.Patient {
	return &model.Patient{
		Account: u.account(),
		Name:    u.PatientName.String,
		Age:     int(u.PatientAge.Int64),
		Gender:  u.PatientGender.String,
		Address: u.PatientAddress.String,
	}
}

func (u *userRow) toUser() (model.User, error) {
	switch model.Role(u.Role) {
	case model.RoleDoctor:
		return u.doctor(), nil
	case model.RolePatient:
		return u.patient(), nil
	case model.RolePharmacy:
		return &model.Pharmacy{Account: u.account()}, nil
	default:
		return nil, fmt.Errorf("user %d has unknown role %q", u.ID, u.Role)
	}
}

type userRepository struct {
	BaseRepository
}

func NewUserRepository(db *sqlx.DB) repository.UserRepository {
	return &userRepository{NewBaseRepository(db)}
}

func (r *userRepository) FindDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users u WHERE u.id = ? AND u.role = ?`)

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id, string(model.RoleDoctor)); err != nil {
		return nil, fmt.Errorf("failed to find doctor: %w", notFound(err))
	}
	return row.doctor(), nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (model.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users u WHERE u.username = ?`)

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, username); err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", notFound(err))
	}
	return row.toUser()
}

func (r *userRepository) List(ctx context.Context) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u ORDER BY u.id`

	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]model.User, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}
