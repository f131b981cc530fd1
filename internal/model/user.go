package model

// Role discriminates the three kinds of account sharing the users table.
type Role string

const (
	RoleDoctor   Role = "doctor"
	RolePharmacy Role = "pharmacy"
	RolePatient  Role = "patient"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RolePharmacy, RolePatient:
		return true
	}
	return false
}

// Account is the identity and credential core every user carries.
type Account struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// User is one of *Doctor, *Patient or *Pharmacy. The role payload is fixed
// by the concrete type, so a doctor can never carry patient fields.
type User interface {
	GetAccount() Account
	isUser()
}

type Doctor struct {
	Account
	Name            string `json:"name"`
	LicenseNumber   string `json:"license_number"`
	HospitalName    string `json:"hospital_name"`
	HospitalAddress string `json:"hospital_address"`
	HospitalContact string `json:"hospital_contact"`
}

type Patient struct {
	Account
	Name    string `json:"name"`
	Age     int    `json:"age"`
	Gender  string `json:"gender"`
	Address string `json:"address"`
}

type Pharmacy struct {
	Account
}

func (d *Doctor) GetAccount() Account   { return d.Account }
func (p *Patient) GetAccount() Account  { return p.Account }
func (p *Pharmacy) GetAccount() Account { return p.Account }

func (*Doctor) isUser()   {}
func (*Patient) isUser()  {}
func (*Pharmacy) isUser() {}
