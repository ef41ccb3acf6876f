package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/insurance-eligibility/backend/internal/application/services"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/insurerapi"
)

// EligibilityService defines the verification, history and cache operations
type EligibilityService interface {
	VerifyEligibility(ctx context.Context, req entities.VerificationRequest) (*entities.VerificationResult, error)
	GetHistory(ctx context.Context, patientID string, skip, limit int) ([]*entities.EligibilityCheck, int, error)
	GetStats(ctx context.Context, patientID *string, windowDays int) (*entities.EligibilityStats, error)
	InvalidateCache(ctx context.Context, searchKey string) error
	GetCacheStats() entities.CacheStats
}

// OverrideService defines the manual decision operations
type OverrideService interface {
	ApplyOverride(ctx context.Context, checkID int64, reason, approverID string) (*entities.EligibilityCheck, error)
	RecordManualVerification(ctx context.Context, req services.ManualVerificationRequest) (*entities.EligibilityCheck, error)
}

// EligibilityHandler handles insurance eligibility requests
type EligibilityHandler struct {
	eligibility EligibilityService
	overrides   OverrideService
}

// NewEligibilityHandler creates a new eligibility handler
func NewEligibilityHandler(eligibility EligibilityService, overrides OverrideService) *EligibilityHandler {
	return &EligibilityHandler{
		eligibility: eligibility,
		overrides:   overrides,
	}
}

type verifyRequest struct {
	PatientID  string `json:"patient_id"`
	CardNumber string `json:"card_number"`
	NationalID string `json:"national_id"`
	AsOfDate   string `json:"as_of_date"`
	UseCache   *bool  `json:"use_cache"`
	VerifiedBy string `json:"verified_by"`
}

type overrideRequest struct {
	Reason     string `json:"reason"`
	ApproverID string `json:"approver_id"`
}

type manualVerificationRequest struct {
	PatientID  string `json:"patient_id"`
	CardNumber string `json:"card_number"`
	NationalID string `json:"national_id"`
	AsOfDate   string `json:"as_of_date"`
	IsEligible bool   `json:"is_eligible"`
	Reason     string `json:"reason"`
	VerifiedBy string `json:"verified_by"`
}

type historyResponse struct {
	Checks []*entities.EligibilityCheck `json:"checks"`
	Total  int                          `json:"total"`
	Skip   int                          `json:"skip"`
	Limit  int                          `json:"limit"`
}

// VerifyEligibility handles POST /api/eligibility/verify
func (h *EligibilityHandler) VerifyEligibility(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	asOfDate, ok := parseDate(body.AsOfDate)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "as_of_date must be formatted as YYYY-MM-DD")
		return
	}

	useCache := true
	if body.UseCache != nil {
		useCache = *body.UseCache
	}

	result, err := h.eligibility.VerifyEligibility(r.Context(), entities.VerificationRequest{
		PatientID:  strings.TrimSpace(body.PatientID),
		CardNumber: body.CardNumber,
		NationalID: body.NationalID,
		AsOfDate:   asOfDate,
		UseCache:   useCache,
		VerifiedBy: strings.TrimSpace(body.VerifiedBy),
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// GetHistory handles GET /api/eligibility/patients/{patientId}/history
func (h *EligibilityHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("patientId")

	skip, ok := queryInt(r, "skip", 0)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "skip must be an integer")
		return
	}
	limit, ok := queryInt(r, "limit", services.DefaultHistoryLimit)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	checks, total, err := h.eligibility.GetHistory(r.Context(), patientID, skip, limit)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if checks == nil {
		checks = []*entities.EligibilityCheck{}
	}
	if limit <= 0 {
		limit = services.DefaultHistoryLimit
	}
	if limit > services.MaxHistoryLimit {
		limit = services.MaxHistoryLimit
	}

	respondWithJSON(w, http.StatusOK, historyResponse{
		Checks: checks,
		Total:  total,
		Skip:   skip,
		Limit:  limit,
	})
}

// ApplyOverride handles POST /api/eligibility/checks/{id}/override
func (h *EligibilityHandler) ApplyOverride(w http.ResponseWriter, r *http.Request) {
	checkID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || checkID <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid check id")
		return
	}

	var body overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	check, err := h.overrides.ApplyOverride(r.Context(), checkID, body.Reason, body.ApproverID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, check)
}

// RecordManualVerification handles POST /api/eligibility/manual
func (h *EligibilityHandler) RecordManualVerification(w http.ResponseWriter, r *http.Request) {
	var body manualVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	asOfDate, ok := parseDate(body.AsOfDate)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "as_of_date must be formatted as YYYY-MM-DD")
		return
	}

	check, err := h.overrides.RecordManualVerification(r.Context(), services.ManualVerificationRequest{
		PatientID:  body.PatientID,
		CardNumber: body.CardNumber,
		NationalID: body.NationalID,
		AsOfDate:   asOfDate,
		IsEligible: body.IsEligible,
		Reason:     body.Reason,
		VerifiedBy: body.VerifiedBy,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, check)
}

// GetStats handles GET /api/eligibility/stats
func (h *EligibilityHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(r, "days", services.DefaultStatsWindow)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "days must be an integer")
		return
	}

	var patientID *string
	if v := strings.TrimSpace(r.URL.Query().Get("patient_id")); v != "" {
		patientID = &v
	}

	stats, err := h.eligibility.GetStats(r.Context(), patientID, days)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// InvalidateCache handles DELETE /api/eligibility/cache/{searchKey}
func (h *EligibilityHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if err := h.eligibility.InvalidateCache(r.Context(), r.PathValue("searchKey")); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCacheStats handles GET /api/eligibility/cache/stats
func (h *EligibilityHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.eligibility.GetCacheStats())
}

// parseDate accepts an empty value as "today"
func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(insurerapi.DateLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func queryInt(r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
