// Package identity resolves doctors and patients against the security
// service. The engines trust its verdict: an inactive or missing identity
// aborts the mutating operation.
package identity

import "context"

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"

	RoleDoctor  = "DOCTOR"
	RolePatient = "PATIENT"
)

type Doctor struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	Specialty string `json:"specialty"`
	FullName  string `json:"fullname"`
	Email     string `json:"email"`
}

type Patient struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Status   string `json:"status"`
	FullName string `json:"fullname"`
	Email    string `json:"email"`
}

type Verifier interface {
	GetDoctor(ctx context.Context, id, credential string) (Doctor, error)
	GetPatient(ctx context.Context, id, credential string) (Patient, error)
	DoctorsBySpecialty(ctx context.Context, specialty, credential string) ([]Doctor, error)
}
