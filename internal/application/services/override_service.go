package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/repositories"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/insurerapi"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/insurance-eligibility/backend/pkg/errors"
)

// DefaultOverrideMinReason is the shortest accepted justification, after trimming
const DefaultOverrideMinReason = 10

// ManualVerificationRequest is a staff decision recorded without an insurer answer
type ManualVerificationRequest struct {
	PatientID  string
	CardNumber string
	NationalID string
	AsOfDate   time.Time
	IsEligible bool
	Reason     string
	VerifiedBy string
}

// OverrideService lets approvers assert eligibility on top of the audit trail
type OverrideService struct {
	repo        repositories.EligibilityCheckRepository
	permissions providers.PermissionChecker
	events      providers.EventPublisher
	minReason   int
	now         func() time.Time
	loc         *time.Location
}

// OverrideServiceOption configures optional collaborators
type OverrideServiceOption func(*OverrideService)

// WithOverrideEventPublisher announces applied overrides and manual decisions
func WithOverrideEventPublisher(events providers.EventPublisher) OverrideServiceOption {
	return func(s *OverrideService) {
		s.events = events
	}
}

// WithOverrideLocation sets the time zone manual decisions are dated in
func WithOverrideLocation(loc *time.Location) OverrideServiceOption {
	return func(s *OverrideService) {
		s.loc = loc
	}
}

// WithOverrideClock replaces time.Now
func WithOverrideClock(now func() time.Time) OverrideServiceOption {
	return func(s *OverrideService) {
		s.now = now
	}
}

// NewOverrideService creates a new override service
func NewOverrideService(
	repo repositories.EligibilityCheckRepository,
	permissions providers.PermissionChecker,
	minReason int,
	opts ...OverrideServiceOption,
) *OverrideService {
	if minReason <= 0 {
		minReason = DefaultOverrideMinReason
	}
	s := &OverrideService{
		repo:        repo,
		permissions: permissions,
		minReason:   minReason,
		now:         time.Now,
		loc:         insurerapi.DefaultLocation,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyOverride marks a check as manually approved. The machine answer in
// is_eligible is kept as it was.
func (s *OverrideService) ApplyOverride(ctx context.Context, checkID int64, reason, approverID string) (*entities.EligibilityCheck, error) {
	ctx, span := observability.StartSpan(ctx, "eligibility.override")
	defer span.End()

	// 1. Data shape
	if checkID <= 0 {
		return nil, apperrors.NewValidationError("check id is required")
	}
	approverID = strings.TrimSpace(approverID)
	reason = strings.TrimSpace(reason)
	if err := s.validateActorAndReason(approverID, reason); err != nil {
		return nil, err
	}

	// 2. Authorization
	if err := s.authorize(ctx, approverID, providers.PermissionOverrideEligibility); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	// 3. Conditional update
	approvedAt := s.now().UTC()
	check, err := s.repo.ApplyOverride(ctx, repositories.OverrideUpdate{
		CheckID:    checkID,
		Reason:     reason,
		ApproverID: approverID,
		ApprovedAt: approvedAt,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Int64("check_id", checkID).
		Str("approved_by", approverID).
		Bool("machine_answer_eligible", check.IsEligible).
		Msg("eligibility override applied")

	publishEvent(ctx, s.events, entities.EligibilityEventOverrideApplied, check, approvedAt)

	return check, nil
}

// RecordManualVerification stores a staff eligibility decision as a new
// check. A positive decision is recorded as an approved override.
func (s *OverrideService) RecordManualVerification(ctx context.Context, req ManualVerificationRequest) (*entities.EligibilityCheck, error) {
	ctx, span := observability.StartSpan(ctx, "eligibility.manual")
	defer span.End()

	searchType, searchValue, err := resolveSearchKey(req.CardNumber, req.NationalID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	asOfDate := req.AsOfDate
	if asOfDate.IsZero() {
		asOfDate = insurerapi.Today(now, s.loc)
	}
	if err := insurerapi.ValidateAsOfDate(asOfDate, now, s.loc); err != nil {
		return nil, err
	}

	verifiedBy := strings.TrimSpace(req.VerifiedBy)
	reason := strings.TrimSpace(req.Reason)
	if err := s.validateActorAndReason(verifiedBy, reason); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, verifiedBy, providers.PermissionManualVerification); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	check := &entities.EligibilityCheck{
		RequestID:          uuid.NewString(),
		PatientID:          optionalString(strings.TrimSpace(req.PatientID)),
		SearchType:         searchType,
		SearchValue:        searchValue,
		AsOfDate:           asOfDate,
		IsEligible:         req.IsEligible,
		ResponseMessage:    &reason,
		VerifiedBy:         &verifiedBy,
		VerificationMethod: entities.VerificationMethodManual,
		VerifiedAt:         now,
	}
	if req.IsEligible {
		check.IsManualOverride = true
		check.OverrideReason = &reason
		check.OverrideApprovedBy = &verifiedBy
		check.OverrideApprovedAt = &now
	}

	if _, err := s.repo.Record(ctx, check); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Int64("check_id", check.ID).
		Str("verified_by", verifiedBy).
		Str("search_value", observability.MaskIdentifier(searchValue)).
		Bool("is_eligible", req.IsEligible).
		Msg("manual eligibility verification recorded")

	publishEvent(ctx, s.events, entities.EligibilityEventCheckRecorded, check, now)

	return check, nil
}

func (s *OverrideService) validateActorAndReason(actorID, reason string) error {
	if actorID == "" {
		return apperrors.NewValidationError("approver id is required")
	}
	if len([]rune(reason)) < s.minReason {
		return apperrors.NewValidationError(fmt.Sprintf("reason must be at least %d characters", s.minReason))
	}
	return nil
}

func (s *OverrideService) authorize(ctx context.Context, actorID, permission string) error {
	decision, err := s.permissions.Authorize(ctx, actorID, permission)
	if err != nil {
		return apperrors.NewInternalError("permission check failed", err)
	}
	if !decision.Allowed {
		msg := fmt.Sprintf("%s is not allowed to %s", actorID, permission)
		if decision.Reason != "" {
			msg = decision.Reason
		}
		observability.LoggerFromContext(ctx).Warn().
			Str("actor", actorID).
			Str("permission", permission).
			Str("reason", decision.Reason).
			Msg("permission denied")
		return apperrors.NewUnauthorizedError(msg)
	}
	return nil
}
