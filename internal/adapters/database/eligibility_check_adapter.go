package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/repositories"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/insurance-eligibility/backend/pkg/errors"
)

const eligibilityChecksTable = "eligibility_checks"

var eligibilityCheckColumns = []interface{}{
	"id", "request_id", "patient_id",
	"search_type", "search_value", "as_of_date",
	"is_eligible", "response_code", "response_message", "participant_info",
	"verified_by", "verification_method", "verified_at",
	"is_manual_override", "override_reason", "override_approved_by", "override_approved_at",
	"is_cached", "cache_hit", "api_error", "api_error_code", "retry_count", "last_retry_at",
	"created_at", "updated_at",
}

// EligibilityCheckAdapter implements EligibilityCheckRepository on PostgreSQL
type EligibilityCheckAdapter struct {
	client *postgres.Client
	db     *goqu.Database
	now    func() time.Time
}

// NewEligibilityCheckAdapter creates a new eligibility check adapter
func NewEligibilityCheckAdapter(client *postgres.Client) repositories.EligibilityCheckRepository {
	return &EligibilityCheckAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
		now:    time.Now,
	}
}

// Record appends a check. Failed verifications are stored like any other.
func (a *EligibilityCheckAdapter) Record(ctx context.Context, check *entities.EligibilityCheck) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "history.record")
	defer span.End()

	now := a.now().UTC()
	if check.VerifiedAt.IsZero() {
		check.VerifiedAt = now
	}
	check.CreatedAt = now
	check.UpdatedAt = now

	record := goqu.Record{
		"request_id":           check.RequestID,
		"patient_id":           nullString(check.PatientID),
		"search_type":          string(check.SearchType),
		"search_value":         check.SearchValue,
		"as_of_date":           check.AsOfDate.Format("2006-01-02"),
		"is_eligible":          check.IsEligible,
		"response_code":        nullString(check.ResponseCode),
		"response_message":     nullString(check.ResponseMessage),
		"participant_info":     sql.NullString{String: string(check.ParticipantInfo), Valid: len(check.ParticipantInfo) > 0},
		"verified_by":          nullString(check.VerifiedBy),
		"verification_method":  string(check.VerificationMethod),
		"verified_at":          check.VerifiedAt,
		"is_manual_override":   check.IsManualOverride,
		"override_reason":      nullString(check.OverrideReason),
		"override_approved_by": nullString(check.OverrideApprovedBy),
		"override_approved_at": nullTime(check.OverrideApprovedAt),
		"is_cached":            check.IsCached,
		"cache_hit":            check.CacheHit,
		"api_error":            nullString(check.APIError),
		"api_error_code":       nullString(check.APIErrorCode),
		"retry_count":          check.RetryCount,
		"last_retry_at":        nullTime(check.LastRetryAt),
		"created_at":           check.CreatedAt,
		"updated_at":           check.UpdatedAt,
	}

	query, args, err := a.db.Insert(eligibilityChecksTable).Rows(record).Returning("id").ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build insert query", err)
	}

	var id int64
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		observability.RecordError(span, err)
		return 0, apperrors.NewInternalError("failed to record eligibility check", err)
	}

	check.ID = id
	return id, nil
}

// GetByID retrieves a check by id
func (a *EligibilityCheckAdapter) GetByID(ctx context.Context, id int64) (*entities.EligibilityCheck, error) {
	query, args, err := a.db.Select(eligibilityCheckColumns...).
		From(eligibilityChecksTable).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	check, err := scanEligibilityCheck(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("eligibility check %d not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get eligibility check", err)
	}
	return check, nil
}

// ListByPatient returns a page of checks for a patient, newest first
func (a *EligibilityCheckAdapter) ListByPatient(ctx context.Context, patientID string, skip, limit int) ([]*entities.EligibilityCheck, int, error) {
	where := goqu.Ex{"patient_id": patientID}

	countQuery, countArgs, err := a.db.From(eligibilityChecksTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(where).
		ToSQL()
	if err != nil {
		return nil, 0, apperrors.NewInternalError("failed to build count query", err)
	}

	var total int
	if err := a.client.DB().QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperrors.NewInternalError("failed to count eligibility checks", err)
	}

	query, args, err := a.db.Select(eligibilityCheckColumns...).
		From(eligibilityChecksTable).
		Where(where).
		Order(goqu.C("verified_at").Desc(), goqu.C("id").Desc()).
		Offset(uint(skip)).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, 0, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.NewInternalError("failed to list eligibility checks", err)
	}
	defer rows.Close()

	checks := make([]*entities.EligibilityCheck, 0, limit)
	for rows.Next() {
		check, err := scanEligibilityCheck(rows)
		if err != nil {
			return nil, 0, apperrors.NewInternalError("failed to scan eligibility check", err)
		}
		checks = append(checks, check)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewInternalError("failed to iterate eligibility checks", err)
	}

	return checks, total, nil
}

// Stats aggregates checks verified within the last WindowDays
func (a *EligibilityCheckAdapter) Stats(ctx context.Context, filter repositories.StatsFilter) (*entities.EligibilityStats, error) {
	now := filter.Now
	if now.IsZero() {
		now = a.now()
	}
	since := now.UTC().AddDate(0, 0, -filter.WindowDays)

	ds := a.db.From(eligibilityChecksTable).
		Select(
			goqu.COUNT(goqu.Star()),
			goqu.L("COUNT(*) FILTER (WHERE is_eligible AND api_error IS NULL)"),
			goqu.L("COUNT(*) FILTER (WHERE NOT is_eligible AND api_error IS NULL)"),
			goqu.L("COUNT(*) FILTER (WHERE is_manual_override)"),
			goqu.L("COUNT(*) FILTER (WHERE cache_hit)"),
			goqu.L("COUNT(*) FILTER (WHERE api_error IS NOT NULL AND api_error_code IS DISTINCT FROM ?)", entities.APIErrorCodeCanceled),
		).
		Where(goqu.C("verified_at").Gte(since))
	if filter.PatientID != nil {
		ds = ds.Where(goqu.Ex{"patient_id": *filter.PatientID})
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build stats query", err)
	}

	var total, cacheHits, apiErrors int
	stats := &entities.EligibilityStats{WindowDays: filter.WindowDays}
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&total,
		&stats.EligibleCount,
		&stats.IneligibleCount,
		&stats.OverrideCount,
		&cacheHits,
		&apiErrors,
	)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to compute eligibility stats", err)
	}

	stats.Total = total
	if total > 0 {
		stats.CacheHitRate = float64(cacheHits) / float64(total)
		stats.APIErrorRate = float64(apiErrors) / float64(total)
	}
	return stats, nil
}

// ApplyOverride stamps override fields on a check that is not yet overridden.
// Every other column is left untouched.
func (a *EligibilityCheckAdapter) ApplyOverride(ctx context.Context, override repositories.OverrideUpdate) (*entities.EligibilityCheck, error) {
	approvedAt := override.ApprovedAt.UTC()

	query, args, err := a.db.Update(eligibilityChecksTable).
		Set(goqu.Record{
			"is_manual_override":   true,
			"verification_method":  string(entities.VerificationMethodOverride),
			"override_reason":      override.Reason,
			"override_approved_by": override.ApproverID,
			"override_approved_at": approvedAt,
			"updated_at":           a.now().UTC(),
		}).
		Where(goqu.Ex{"id": override.CheckID, "is_manual_override": false}).
		Returning(eligibilityCheckColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build update query", err)
	}

	check, err := scanEligibilityCheck(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == nil {
		return check, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewInternalError("failed to apply override", err)
	}

	// Nothing updated: either the check does not exist or it is already overridden.
	if _, err := a.GetByID(ctx, override.CheckID); err != nil {
		return nil, err
	}
	return nil, apperrors.NewConflictError(fmt.Sprintf("eligibility check %d is already overridden", override.CheckID))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEligibilityCheck(row rowScanner) (*entities.EligibilityCheck, error) {
	check := &entities.EligibilityCheck{}
	var (
		patientID, responseCode, responseMessage, verifiedBy sql.NullString
		overrideReason, overrideApprovedBy                   sql.NullString
		apiError, apiErrorCode                               sql.NullString
		overrideApprovedAt, lastRetryAt                      sql.NullTime
		participantInfo                                      []byte
		searchType, method                                   string
	)

	err := row.Scan(
		&check.ID,
		&check.RequestID,
		&patientID,
		&searchType,
		&check.SearchValue,
		&check.AsOfDate,
		&check.IsEligible,
		&responseCode,
		&responseMessage,
		&participantInfo,
		&verifiedBy,
		&method,
		&check.VerifiedAt,
		&check.IsManualOverride,
		&overrideReason,
		&overrideApprovedBy,
		&overrideApprovedAt,
		&check.IsCached,
		&check.CacheHit,
		&apiError,
		&apiErrorCode,
		&check.RetryCount,
		&lastRetryAt,
		&check.CreatedAt,
		&check.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	check.SearchType = entities.SearchType(searchType)
	check.VerificationMethod = entities.VerificationMethod(method)
	check.PatientID = stringPtr(patientID)
	check.ResponseCode = stringPtr(responseCode)
	check.ResponseMessage = stringPtr(responseMessage)
	check.VerifiedBy = stringPtr(verifiedBy)
	check.OverrideReason = stringPtr(overrideReason)
	check.OverrideApprovedBy = stringPtr(overrideApprovedBy)
	check.APIError = stringPtr(apiError)
	check.APIErrorCode = stringPtr(apiErrorCode)
	check.OverrideApprovedAt = timePtr(overrideApprovedAt)
	check.LastRetryAt = timePtr(lastRetryAt)
	if len(participantInfo) > 0 {
		check.ParticipantInfo = participantInfo
	}

	return check, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
