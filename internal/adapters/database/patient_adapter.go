package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/insurance-eligibility/backend/pkg/errors"
)

// PatientAdapter reads the hospital platform's patients table
type PatientAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewPatientAdapter creates a new patient adapter
func NewPatientAdapter(client *postgres.Client) providers.PatientLookup {
	return &PatientAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// GetPatient retrieves a patient by id
func (a *PatientAdapter) GetPatient(ctx context.Context, patientID string) (*entities.Patient, error) {
	query, args, err := a.db.Select("id", "full_name", "card_number", "national_id").
		From("patients").
		Where(goqu.Ex{"id": patientID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	patient := &entities.Patient{}
	var cardNumber, nationalID sql.NullString

	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&patient.ID,
		&patient.FullName,
		&cardNumber,
		&nationalID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient %s not found", patientID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get patient", err)
	}

	patient.CardNumber = stringPtr(cardNumber)
	patient.NationalID = stringPtr(nationalID)
	return patient, nil
}
