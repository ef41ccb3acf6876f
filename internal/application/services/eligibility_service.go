package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/repositories"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/insurerapi"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/insurance-eligibility/backend/pkg/errors"
)

// Pagination and stats window limits
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	DefaultStatsWindow  = 30
	MaxStatsWindow      = 365
)

const defaultHistoryWriteTimeout = 5 * time.Second

// InsurerClient is the retry-aware insurer lookup
type InsurerClient interface {
	CheckEligibilityByCard(ctx context.Context, cardNumber string, asOfDate time.Time) (*insurerapi.RetryResult, error)
	CheckEligibilityByNationalID(ctx context.Context, nationalID string, asOfDate time.Time) (*insurerapi.RetryResult, error)
}

// EligibilityCache is the best-effort response cache
type EligibilityCache interface {
	Get(ctx context.Context, key string) (*entities.CachedEligibility, bool)
	Set(ctx context.Context, key string, body json.RawMessage) error
	Invalidate(ctx context.Context, key string) error
	Stats() entities.CacheStats
}

// UpstreamFailureError reports an insurer failure that survived every retry.
// The failed attempt is already recorded under CheckID.
type UpstreamFailureError struct {
	CheckID    int64
	RequestID  string
	ErrorCode  string
	Message    string
	RetryCount int
	err        *apperrors.AppError
}

// NewUpstreamFailureError builds the error for a recorded failed check
func NewUpstreamFailureError(checkID int64, requestID, errorCode, message string, retryCount int) *UpstreamFailureError {
	return &UpstreamFailureError{
		CheckID:    checkID,
		RequestID:  requestID,
		ErrorCode:  errorCode,
		Message:    message,
		RetryCount: retryCount,
		err: apperrors.NewExternalError(
			"verification service unavailable",
			fmt.Errorf("%s: %s", errorCode, message),
		),
	}
}

func (e *UpstreamFailureError) Error() string {
	return e.err.Error()
}

func (e *UpstreamFailureError) Unwrap() error {
	return e.err
}

// EligibilityServiceConfig tunes the verification workflow
type EligibilityServiceConfig struct {
	VerifyTimeout       time.Duration
	HistoryWriteTimeout time.Duration
	DedupeInFlight      bool

	// Location decides which calendar day "today" is.
	Location *time.Location
}

// EligibilityService orchestrates cache, insurer and audit history
type EligibilityService struct {
	repo       repositories.EligibilityCheckRepository
	insurer    InsurerClient
	cache      EligibilityCache
	classifier *insurerapi.Classifier
	patients   providers.PatientLookup
	events     providers.EventPublisher
	metrics    *observability.Metrics
	cfg        EligibilityServiceConfig
	now        func() time.Time
	inflight   singleflight.Group
}

// EligibilityServiceOption configures optional collaborators
type EligibilityServiceOption func(*EligibilityService)

// WithPatientLookup rejects verifications for unknown patients
func WithPatientLookup(patients providers.PatientLookup) EligibilityServiceOption {
	return func(s *EligibilityService) {
		s.patients = patients
	}
}

// WithEventPublisher announces every recorded check
func WithEventPublisher(events providers.EventPublisher) EligibilityServiceOption {
	return func(s *EligibilityService) {
		s.events = events
	}
}

// WithServiceMetrics records verification outcomes
func WithServiceMetrics(metrics *observability.Metrics) EligibilityServiceOption {
	return func(s *EligibilityService) {
		s.metrics = metrics
	}
}

// WithServiceClock replaces time.Now
func WithServiceClock(now func() time.Time) EligibilityServiceOption {
	return func(s *EligibilityService) {
		s.now = now
	}
}

// NewEligibilityService creates a new eligibility service
func NewEligibilityService(
	repo repositories.EligibilityCheckRepository,
	insurer InsurerClient,
	cache EligibilityCache,
	classifier *insurerapi.Classifier,
	cfg EligibilityServiceConfig,
	opts ...EligibilityServiceOption,
) *EligibilityService {
	if cfg.HistoryWriteTimeout <= 0 {
		cfg.HistoryWriteTimeout = defaultHistoryWriteTimeout
	}
	if cfg.Location == nil {
		cfg.Location = insurerapi.DefaultLocation
	}
	s := &EligibilityService{
		repo:       repo,
		insurer:    insurer,
		cache:      cache,
		classifier: classifier,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyEligibility checks a participant against cache and insurer and
// records the attempt. Only invalid requests are not recorded.
func (s *EligibilityService) VerifyEligibility(ctx context.Context, req entities.VerificationRequest) (*entities.VerificationResult, error) {
	if s.cfg.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.VerifyTimeout)
		defer cancel()
	}

	// 1. Resolve and validate the search key
	searchType, searchValue, err := resolveSearchKey(req.CardNumber, req.NationalID)
	if err != nil {
		return nil, err
	}
	asOfDate := req.AsOfDate
	if asOfDate.IsZero() {
		asOfDate = insurerapi.Today(s.now(), s.cfg.Location)
	}
	if err := insurerapi.ValidateAsOfDate(asOfDate, s.now(), s.cfg.Location); err != nil {
		return nil, err
	}
	if err := s.checkPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	ctx = observability.WithRequestID(ctx, requestID)
	ctx, span := observability.StartSpan(ctx, "eligibility.verify")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("search_type", string(searchType)),
		attribute.Bool("use_cache", req.UseCache),
	)

	logger := observability.LoggerFromContext(ctx)
	check := &entities.EligibilityCheck{
		RequestID:          requestID,
		PatientID:          optionalString(req.PatientID),
		SearchType:         searchType,
		SearchValue:        searchValue,
		AsOfDate:           asOfDate,
		VerifiedBy:         optionalString(req.VerifiedBy),
		VerificationMethod: entities.VerificationMethodAPI,
	}

	// 2. Cache lookup
	if req.UseCache {
		if entry, ok := s.cache.Get(ctx, searchValue); ok {
			outcome := s.classifier.Classify(http.StatusOK, entry.Body)
			if outcome.IsSuccess() {
				check.IsCached = true
				check.CacheHit = true
				applyOutcome(check, outcome)
				return s.finish(ctx, check, outcome)
			}
			logger.Warn().
				Str("search_value", observability.MaskIdentifier(searchValue)).
				Msg("cached insurer response no longer classifies as an answer, ignoring it")
		}
	}

	// 3. Live lookup
	result, err := s.lookup(ctx, searchType, searchValue, asOfDate)
	if err != nil {
		return nil, err
	}
	applyOutcome(check, result.Outcome)
	check.RetryCount = result.RetryCount
	check.LastRetryAt = result.LastRetryAt

	// 4. Cache write, answers only
	if result.Outcome.IsSuccess() && len(result.Outcome.Body) > 0 {
		if err := s.cache.Set(ctx, searchValue, result.Outcome.Body); err != nil {
			logger.Warn().Err(err).
				Str("search_value", observability.MaskIdentifier(searchValue)).
				Msg("failed to cache insurer response")
		}
	}

	// 5 and 6. History write and result
	return s.finish(ctx, check, result.Outcome)
}

func (s *EligibilityService) finish(ctx context.Context, check *entities.EligibilityCheck, outcome *insurerapi.Outcome) (*entities.VerificationResult, error) {
	logger := observability.LoggerFromContext(ctx)
	check.VerifiedAt = s.now().UTC()

	if _, err := s.record(ctx, check); err != nil {
		logger.Error().Err(err).
			Str("search_value", observability.MaskIdentifier(check.SearchValue)).
			Str("outcome", string(outcome.Kind)).
			Msg("failed to record eligibility check")
		return nil, apperrors.NewInternalError("failed to record eligibility check", err)
	}

	observability.RecordVerification(ctx, s.metrics, string(outcome.Kind), check.IsCached)
	logger.Info().
		Int64("check_id", check.ID).
		Str("search_type", string(check.SearchType)).
		Str("search_value", observability.MaskIdentifier(check.SearchValue)).
		Str("outcome", string(outcome.Kind)).
		Bool("cached", check.IsCached).
		Int("retry_count", check.RetryCount).
		Msg("eligibility verified")

	publishEvent(ctx, s.events, entities.EligibilityEventCheckRecorded, check, check.VerifiedAt)

	if !outcome.IsSuccess() {
		return nil, NewUpstreamFailureError(check.ID, check.RequestID, outcome.ErrorCode, outcome.Message, check.RetryCount)
	}

	return &entities.VerificationResult{
		CheckID:         check.ID,
		RequestID:       check.RequestID,
		IsEligible:      check.IsEligible,
		Message:         outcome.Message,
		ResponseCode:    outcome.ResponseCode,
		IsCached:        check.IsCached,
		VerifiedAt:      check.VerifiedAt,
		SearchType:      check.SearchType,
		SearchValue:     check.SearchValue,
		ParticipantInfo: outcome.Participant,
		RetryCount:      check.RetryCount,
	}, nil
}

// record writes the audit row with a context that survives the caller's deadline
func (s *EligibilityService) record(ctx context.Context, check *entities.EligibilityCheck) (int64, error) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HistoryWriteTimeout)
	defer cancel()
	return s.repo.Record(recordCtx, check)
}

func (s *EligibilityService) lookup(ctx context.Context, searchType entities.SearchType, searchValue string, asOfDate time.Time) (*insurerapi.RetryResult, error) {
	call := func(ctx context.Context) (*insurerapi.RetryResult, error) {
		if searchType == entities.SearchTypeCard {
			return s.insurer.CheckEligibilityByCard(ctx, searchValue, asOfDate)
		}
		return s.insurer.CheckEligibilityByNationalID(ctx, searchValue, asOfDate)
	}

	if !s.cfg.DedupeInFlight {
		return call(ctx)
	}

	// The shared call runs on its own deadline; each caller waits on its own context.
	key := fmt.Sprintf("%s:%s:%s", searchType, searchValue, asOfDate.Format(insurerapi.DateLayout))
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		sharedCtx, cancel := s.sharedLookupContext(ctx)
		defer cancel()
		return call(sharedCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			observability.LoggerFromContext(ctx).Debug().
				Str("search_value", observability.MaskIdentifier(searchValue)).
				Msg("joined in-flight insurer lookup")
		}
		return res.Val.(*insurerapi.RetryResult), nil
	case <-ctx.Done():
		return abandonedLookup(ctx), nil
	}
}

func (s *EligibilityService) sharedLookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s.cfg.VerifyTimeout > 0 {
		return context.WithTimeout(detached, s.cfg.VerifyTimeout)
	}
	return context.WithCancel(detached)
}

// abandonedLookup is the outcome for a caller that stopped waiting
func abandonedLookup(ctx context.Context) *insurerapi.RetryResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &insurerapi.RetryResult{Outcome: insurerapi.Failure(insurerapi.ErrCodeTimeout, "verification deadline exceeded")}
	}
	return &insurerapi.RetryResult{Outcome: insurerapi.Failure(insurerapi.ErrCodeCanceled, "verification was canceled by the caller")}
}

func (s *EligibilityService) checkPatient(ctx context.Context, patientID string) error {
	if patientID == "" || s.patients == nil {
		return nil
	}
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return apperrors.NewValidationError(fmt.Sprintf("unknown patient %s", patientID))
		}
		return err
	}
	return nil
}

// GetHistory returns a patient's checks, newest first, with the total count
func (s *EligibilityService) GetHistory(ctx context.Context, patientID string, skip, limit int) ([]*entities.EligibilityCheck, int, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, 0, apperrors.NewValidationError("patient id is required")
	}
	if skip < 0 {
		return nil, 0, apperrors.NewValidationError("skip must not be negative")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.repo.ListByPatient(ctx, patientID, skip, limit)
}

// GetStats aggregates checks over the last windowDays, optionally for one patient
func (s *EligibilityService) GetStats(ctx context.Context, patientID *string, windowDays int) (*entities.EligibilityStats, error) {
	if windowDays == 0 {
		windowDays = DefaultStatsWindow
	}
	if windowDays < 1 || windowDays > MaxStatsWindow {
		return nil, apperrors.NewValidationError(fmt.Sprintf("window must be between 1 and %d days", MaxStatsWindow))
	}
	if patientID != nil && strings.TrimSpace(*patientID) == "" {
		patientID = nil
	}
	return s.repo.Stats(ctx, repositories.StatsFilter{
		PatientID:  patientID,
		WindowDays: windowDays,
		Now:        s.now(),
	})
}

// InvalidateCache drops the cached response for a search key
func (s *EligibilityService) InvalidateCache(ctx context.Context, searchKey string) error {
	if strings.TrimSpace(searchKey) == "" {
		return apperrors.NewValidationError("search key is required")
	}
	if err := s.cache.Invalidate(ctx, searchKey); err != nil {
		return apperrors.NewExternalError("failed to invalidate eligibility cache", err)
	}
	observability.LoggerFromContext(ctx).Info().
		Str("search_value", observability.MaskIdentifier(searchKey)).
		Msg("eligibility cache entry invalidated")
	return nil
}

// GetCacheStats reports cache effectiveness for this process
func (s *EligibilityService) GetCacheStats() entities.CacheStats {
	return s.cache.Stats()
}

// resolveSearchKey requires exactly one well-formed identifier
func resolveSearchKey(cardNumber, nationalID string) (entities.SearchType, string, error) {
	cardNumber = strings.TrimSpace(cardNumber)
	nationalID = strings.TrimSpace(nationalID)

	switch {
	case cardNumber != "" && nationalID != "":
		return "", "", apperrors.NewValidationError("provide either a card number or a national id, not both")
	case cardNumber != "":
		if err := insurerapi.ValidateCardNumber(cardNumber); err != nil {
			return "", "", err
		}
		return entities.SearchTypeCard, cardNumber, nil
	case nationalID != "":
		if err := insurerapi.ValidateNationalID(nationalID); err != nil {
			return "", "", err
		}
		return entities.SearchTypeNationalID, nationalID, nil
	default:
		return "", "", apperrors.NewValidationError("a card number or a national id is required")
	}
}

func applyOutcome(check *entities.EligibilityCheck, outcome *insurerapi.Outcome) {
	check.IsEligible = outcome.Kind == insurerapi.KindEligible
	check.ResponseCode = optionalString(outcome.ResponseCode)
	check.ParticipantInfo = outcome.Participant

	if outcome.IsSuccess() {
		check.ResponseMessage = optionalString(outcome.Message)
		return
	}

	message := outcome.Message
	if message == "" {
		message = outcome.ErrorCode
	}
	check.APIError = &message
	check.APIErrorCode = optionalString(outcome.ErrorCode)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IsUpstreamFailure extracts an UpstreamFailureError from err's chain
func IsUpstreamFailure(err error) (*UpstreamFailureError, bool) {
	var upstream *UpstreamFailureError
	if errors.As(err, &upstream) {
		return upstream, true
	}
	return nil, false
}
