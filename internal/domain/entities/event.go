package entities

import (
	"time"

	"github.com/google/uuid"
)

// EligibilityEventType represents the type of eligibility event
type EligibilityEventType string

const (
	EligibilityEventCheckRecorded   EligibilityEventType = "check_recorded"
	EligibilityEventOverrideApplied EligibilityEventType = "override_applied"
)

// EligibilityEvent announces a change to the audit trail. It carries no
// participant identifiers; consumers fetch the check by id.
type EligibilityEvent struct {
	ID                  string               `json:"id"`
	EventType           EligibilityEventType `json:"event_type"`
	Timestamp           time.Time            `json:"timestamp"`
	CheckID             int64                `json:"check_id"`
	RequestID           string               `json:"request_id"`
	PatientID           *string              `json:"patient_id,omitempty"`
	VerificationMethod  VerificationMethod   `json:"verification_method"`
	IsEligible          bool                 `json:"is_eligible"`
	EffectivelyEligible bool                 `json:"effectively_eligible"`
	IsAuthoritative     bool                 `json:"is_authoritative"`
	IsCached            bool                 `json:"is_cached"`
	APIErrorCode        *string              `json:"api_error_code,omitempty"`
}

// NewEligibilityEvent snapshots a check
func NewEligibilityEvent(eventType EligibilityEventType, check *EligibilityCheck, at time.Time) *EligibilityEvent {
	return &EligibilityEvent{
		ID:                  uuid.NewString(),
		EventType:           eventType,
		Timestamp:           at,
		CheckID:             check.ID,
		RequestID:           check.RequestID,
		PatientID:           check.PatientID,
		VerificationMethod:  check.VerificationMethod,
		IsEligible:          check.IsEligible,
		EffectivelyEligible: check.EffectivelyEligible(),
		IsAuthoritative:     check.IsAuthoritative(),
		IsCached:            check.IsCached,
		APIErrorCode:        check.APIErrorCode,
	}
}
