package entities

import (
	"encoding/json"
	"time"
)

// SearchType identifies which participant identifier a check was made with
type SearchType string

const (
	SearchTypeCard       SearchType = "card"
	SearchTypeNationalID SearchType = "national_id"
)

// Identifier lengths required by the insurer
const (
	CardNumberLength = 13
	NationalIDLength = 16
)

// VerificationMethod records how an eligibility answer was obtained
type VerificationMethod string

const (
	VerificationMethodAPI      VerificationMethod = "api"
	VerificationMethodManual   VerificationMethod = "manual"
	VerificationMethodOverride VerificationMethod = "override"
)

// APIErrorCodeCanceled marks a check abandoned by its caller. It is kept in
// the audit trail but not counted as an insurer error.
const APIErrorCodeCanceled = "CANCELED"

// EligibilityCheck is one audited verification attempt. Rows are append-only;
// only the override fields change after insert.
type EligibilityCheck struct {
	ID        int64   `json:"id" db:"id"`
	RequestID string  `json:"request_id" db:"request_id"`
	PatientID *string `json:"patient_id,omitempty" db:"patient_id"`

	SearchType  SearchType `json:"search_type" db:"search_type"`
	SearchValue string     `json:"search_value" db:"search_value"`
	AsOfDate    time.Time  `json:"as_of_date" db:"as_of_date"`

	IsEligible      bool            `json:"is_eligible" db:"is_eligible"`
	ResponseCode    *string         `json:"response_code,omitempty" db:"response_code"`
	ResponseMessage *string         `json:"response_message,omitempty" db:"response_message"`
	ParticipantInfo json.RawMessage `json:"participant_info,omitempty" db:"participant_info"`

	VerifiedBy         *string            `json:"verified_by,omitempty" db:"verified_by"`
	VerificationMethod VerificationMethod `json:"verification_method" db:"verification_method"`
	VerifiedAt         time.Time          `json:"verified_at" db:"verified_at"`

	IsManualOverride   bool       `json:"is_manual_override" db:"is_manual_override"`
	OverrideReason     *string    `json:"override_reason,omitempty" db:"override_reason"`
	OverrideApprovedBy *string    `json:"override_approved_by,omitempty" db:"override_approved_by"`
	OverrideApprovedAt *time.Time `json:"override_approved_at,omitempty" db:"override_approved_at"`

	IsCached     bool       `json:"is_cached" db:"is_cached"`
	CacheHit     bool       `json:"cache_hit" db:"cache_hit"`
	APIError     *string    `json:"api_error,omitempty" db:"api_error"`
	APIErrorCode *string    `json:"api_error_code,omitempty" db:"api_error_code"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty" db:"last_retry_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasAPIError reports whether the insurer call behind this check failed
func (c *EligibilityCheck) HasAPIError() bool {
	return c.APIError != nil
}

// IsAuthoritative reports whether the record may be used for billing: a clean
// API answer (eligible or a definitive "not eligible"), or an applied override.
func (c *EligibilityCheck) IsAuthoritative() bool {
	if c.IsManualOverride {
		return c.OverrideApprovedBy != nil && c.OverrideApprovedAt != nil
	}
	return c.VerificationMethod == VerificationMethodAPI && !c.HasAPIError()
}

// EffectivelyEligible is the eligibility a biller should act on. An override
// is an assertion of eligibility layered on top of the machine answer.
func (c *EligibilityCheck) EffectivelyEligible() bool {
	if c.IsManualOverride {
		return true
	}
	return c.IsEligible && !c.HasAPIError()
}

// CachedEligibility is the payload stored per search key
type CachedEligibility struct {
	Body     json.RawMessage `json:"body"`
	CachedAt time.Time       `json:"cached_at"`
}

// VerificationRequest is the input of a single verification
type VerificationRequest struct {
	PatientID  string
	CardNumber string
	NationalID string
	AsOfDate   time.Time
	UseCache   bool
	VerifiedBy string
}

// VerificationResult is the normalized answer returned to callers
type VerificationResult struct {
	CheckID         int64           `json:"check_id"`
	RequestID       string          `json:"request_id"`
	IsEligible      bool            `json:"is_eligible"`
	Message         string          `json:"message"`
	ResponseCode    string          `json:"response_code,omitempty"`
	IsCached        bool            `json:"is_cached"`
	VerifiedAt      time.Time       `json:"verified_at"`
	SearchType      SearchType      `json:"search_type"`
	SearchValue     string          `json:"search_value"`
	ParticipantInfo json.RawMessage `json:"participant_info,omitempty"`
	RetryCount      int             `json:"retry_count"`
}

// EligibilityStats aggregates checks over a rolling window
type EligibilityStats struct {
	Total           int     `json:"total"`
	EligibleCount   int     `json:"eligible_count"`
	IneligibleCount int     `json:"ineligible_count"`
	OverrideCount   int     `json:"override_count"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	APIErrorRate    float64 `json:"api_error_rate"`
	WindowDays      int     `json:"window_days"`
}

// CacheStats reports cache effectiveness for this process
type CacheStats struct {
	HitCount  int64   `json:"hit_count"`
	MissCount int64   `json:"miss_count"`
	HitRate   float64 `json:"hit_rate"`
}
