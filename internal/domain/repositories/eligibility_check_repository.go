package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
)

// EligibilityCheckRepository is the append-only audit store of verification attempts
type EligibilityCheckRepository interface {
	// Record inserts a check and returns its id
	Record(ctx context.Context, check *entities.EligibilityCheck) (int64, error)

	// GetByID retrieves a check by id
	GetByID(ctx context.Context, id int64) (*entities.EligibilityCheck, error)

	// ListByPatient returns a page of a patient's checks, newest first, and the total
	ListByPatient(ctx context.Context, patientID string, skip, limit int) ([]*entities.EligibilityCheck, int, error)

	// Stats aggregates checks over a rolling window
	Stats(ctx context.Context, filter StatsFilter) (*entities.EligibilityStats, error)

	// ApplyOverride stamps the override fields on a check that has not been overridden yet
	ApplyOverride(ctx context.Context, override OverrideUpdate) (*entities.EligibilityCheck, error)
}

// StatsFilter scopes an aggregate query
type StatsFilter struct {
	PatientID  *string
	WindowDays int
	Now        time.Time
}

// OverrideUpdate carries the only fields a stored check may change
type OverrideUpdate struct {
	CheckID    int64
	Reason     string
	ApproverID string
	ApprovedAt time.Time
}
