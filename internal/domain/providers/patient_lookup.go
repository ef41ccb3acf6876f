package providers

import (
	"context"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
)

// PatientLookup resolves patient references owned by the hospital platform
type PatientLookup interface {
	// GetPatient returns a NOT_FOUND AppError for unknown ids
	GetPatient(ctx context.Context, patientID string) (*entities.Patient, error)
}
