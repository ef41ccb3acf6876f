package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/insurance-eligibility/backend/internal/api/handlers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/application/services"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/insurance-eligibility/backend/pkg/errors"
)

type MockEligibilityService struct {
	mock.Mock
}

func (m *MockEligibilityService) VerifyEligibility(ctx context.Context, req entities.VerificationRequest) (*entities.VerificationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.VerificationResult), args.Error(1)
}

func (m *MockEligibilityService) GetHistory(ctx context.Context, patientID string, skip, limit int) ([]*entities.EligibilityCheck, int, error) {
	args := m.Called(ctx, patientID, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*entities.EligibilityCheck), args.Int(1), args.Error(2)
}

func (m *MockEligibilityService) GetStats(ctx context.Context, patientID *string, windowDays int) (*entities.EligibilityStats, error) {
	args := m.Called(ctx, patientID, windowDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EligibilityStats), args.Error(1)
}

func (m *MockEligibilityService) InvalidateCache(ctx context.Context, searchKey string) error {
	args := m.Called(ctx, searchKey)
	return args.Error(0)
}

func (m *MockEligibilityService) GetCacheStats() entities.CacheStats {
	args := m.Called()
	return args.Get(0).(entities.CacheStats)
}

type MockOverrideService struct {
	mock.Mock
}

func (m *MockOverrideService) ApplyOverride(ctx context.Context, checkID int64, reason, approverID string) (*entities.EligibilityCheck, error) {
	args := m.Called(ctx, checkID, reason, approverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EligibilityCheck), args.Error(1)
}

func (m *MockOverrideService) RecordManualVerification(ctx context.Context, req services.ManualVerificationRequest) (*entities.EligibilityCheck, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EligibilityCheck), args.Error(1)
}

func newHandler() (*handlers.EligibilityHandler, *MockEligibilityService, *MockOverrideService) {
	eligibility := new(MockEligibilityService)
	overrides := new(MockOverrideService)
	return handlers.NewEligibilityHandler(eligibility, overrides), eligibility, overrides
}

func jsonBody(t *testing.T, payload interface{}) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestEligibilityHandler_VerifyEligibility(t *testing.T) {
	t.Run("returns the verification result", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("VerifyEligibility", mock.Anything, mock.MatchedBy(func(req entities.VerificationRequest) bool {
			return req.CardNumber == "0001234567890" &&
				req.UseCache &&
				req.AsOfDate.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) &&
				req.VerifiedBy == "clerk-1"
		})).Return(&entities.VerificationResult{
			CheckID:     7,
			IsEligible:  true,
			Message:     "OK",
			SearchType:  entities.SearchTypeCard,
			SearchValue: "0001234567890",
		}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/verify", jsonBody(t, map[string]interface{}{
			"card_number": "0001234567890",
			"as_of_date":  "2024-03-10",
			"verified_by": "clerk-1",
		}))
		w := httptest.NewRecorder()

		handler.VerifyEligibility(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		out := decode(t, w)
		assert.Equal(t, true, out["is_eligible"])
		assert.Equal(t, float64(7), out["check_id"])
		eligibility.AssertExpectations(t)
	})

	t.Run("use_cache false bypasses the cache", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("VerifyEligibility", mock.Anything, mock.MatchedBy(func(req entities.VerificationRequest) bool {
			return !req.UseCache && req.AsOfDate.IsZero()
		})).Return(&entities.VerificationResult{CheckID: 8}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/verify", jsonBody(t, map[string]interface{}{
			"national_id": "3171234567890001",
			"use_cache":   false,
		}))
		w := httptest.NewRecorder()

		handler.VerifyEligibility(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		eligibility.AssertExpectations(t)
	})

	t.Run("rejects a malformed date", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/verify", jsonBody(t, map[string]interface{}{
			"card_number": "0001234567890",
			"as_of_date":  "10/03/2024",
		}))
		w := httptest.NewRecorder()

		handler.VerifyEligibility(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		eligibility.AssertNotCalled(t, "VerifyEligibility", mock.Anything, mock.Anything)
	})

	t.Run("rejects an invalid payload", func(t *testing.T) {
		handler, _, _ := newHandler()

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/verify", bytes.NewBufferString("invalid-json"))
		w := httptest.NewRecorder()

		handler.VerifyEligibility(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation error is a bad request", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("VerifyEligibility", mock.Anything, mock.Anything).
			Return(nil, apperrors.NewValidationError("card number must be 13 digits"))

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/verify", jsonBody(t, map[string]interface{}{
			"card_number": "42",
		}))
		w := httptest.NewRecorder()

		handler.VerifyEligibility(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "card number must be 13 digits", decode(t, w)["error"])
	})

	t.Run("upstream failure asks for a manual override", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("VerifyEligibility", mock.Anything, mock.Anything).
			Return(nil, services.NewUpstreamFailureError(41, "req-41", "TIMEOUT", "insurer did not respond in time", 3))

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/verify", jsonBody(t, map[string]interface{}{
			"card_number": "0001234567890",
		}))
		w := httptest.NewRecorder()

		handler.VerifyEligibility(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		out := decode(t, w)
		assert.Equal(t, "verification service unavailable - request manual override", out["error"])
		assert.Equal(t, float64(41), out["check_id"])
		assert.Equal(t, "TIMEOUT", out["error_code"])
		assert.Equal(t, float64(3), out["retry_count"])
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("VerifyEligibility", mock.Anything, mock.Anything).
			Return(nil, apperrors.NewInternalError("failed to record eligibility check", errors.New("pq: connection refused")))

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/verify", jsonBody(t, map[string]interface{}{
			"card_number": "0001234567890",
		}))
		w := httptest.NewRecorder()

		handler.VerifyEligibility(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestEligibilityHandler_GetHistory(t *testing.T) {
	t.Run("passes pagination through", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("GetHistory", mock.Anything, "patient-1", 20, 10).
			Return([]*entities.EligibilityCheck{{ID: 3}, {ID: 2}}, 22, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/eligibility/patients/patient-1/history?skip=20&limit=10", nil)
		req.SetPathValue("patientId", "patient-1")
		w := httptest.NewRecorder()

		handler.GetHistory(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		out := decode(t, w)
		assert.Equal(t, float64(22), out["total"])
		assert.Len(t, out["checks"], 2)
		eligibility.AssertExpectations(t)
	})

	t.Run("defaults and empty history", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("GetHistory", mock.Anything, "patient-2", 0, services.DefaultHistoryLimit).
			Return(nil, 0, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/eligibility/patients/patient-2/history", nil)
		req.SetPathValue("patientId", "patient-2")
		w := httptest.NewRecorder()

		handler.GetHistory(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"checks":[],"total":0,"skip":0,"limit":20}`, w.Body.String())
	})

	t.Run("rejects a non numeric limit", func(t *testing.T) {
		handler, _, _ := newHandler()

		req := httptest.NewRequest(http.MethodGet, "/api/eligibility/patients/patient-1/history?limit=ten", nil)
		req.SetPathValue("patientId", "patient-1")
		w := httptest.NewRecorder()

		handler.GetHistory(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEligibilityHandler_ApplyOverride(t *testing.T) {
	t.Run("applies the override", func(t *testing.T) {
		handler, _, overrides := newHandler()
		approvedBy := "dr-1"
		approvedAt := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

		overrides.On("ApplyOverride", mock.Anything, int64(12), "insurer down, ER case", "dr-1").
			Return(&entities.EligibilityCheck{
				ID:                 12,
				IsManualOverride:   true,
				OverrideApprovedBy: &approvedBy,
				OverrideApprovedAt: &approvedAt,
			}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/checks/12/override", jsonBody(t, map[string]string{
			"reason":      "insurer down, ER case",
			"approver_id": "dr-1",
		}))
		req.SetPathValue("id", "12")
		w := httptest.NewRecorder()

		handler.ApplyOverride(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["is_manual_override"])
		overrides.AssertExpectations(t)
	})

	t.Run("maps service errors", func(t *testing.T) {
		cases := []struct {
			name   string
			err    error
			status int
		}{
			{"short reason", apperrors.NewValidationError("reason must be at least 10 characters"), http.StatusBadRequest},
			{"denied", apperrors.NewUnauthorizedError("nurse-3 is not granted eligibility:override"), http.StatusForbidden},
			{"missing check", apperrors.NewNotFoundError("eligibility check 404 not found"), http.StatusNotFound},
			{"already overridden", apperrors.NewConflictError("eligibility check 12 is already overridden"), http.StatusConflict},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				handler, _, overrides := newHandler()
				overrides.On("ApplyOverride", mock.Anything, int64(12), mock.Anything, mock.Anything).Return(nil, tc.err)

				req := httptest.NewRequest(http.MethodPost, "/api/eligibility/checks/12/override", jsonBody(t, map[string]string{
					"reason":      "insurer down",
					"approver_id": "dr-1",
				}))
				req.SetPathValue("id", "12")
				w := httptest.NewRecorder()

				handler.ApplyOverride(w, req)

				assert.Equal(t, tc.status, w.Code)
			})
		}
	})

	t.Run("rejects a bad id", func(t *testing.T) {
		handler, _, overrides := newHandler()

		req := httptest.NewRequest(http.MethodPost, "/api/eligibility/checks/abc/override", jsonBody(t, map[string]string{}))
		req.SetPathValue("id", "abc")
		w := httptest.NewRecorder()

		handler.ApplyOverride(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		overrides.AssertNotCalled(t, "ApplyOverride", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestEligibilityHandler_RecordManualVerification(t *testing.T) {
	handler, _, overrides := newHandler()

	overrides.On("RecordManualVerification", mock.Anything, mock.MatchedBy(func(req services.ManualVerificationRequest) bool {
		return req.CardNumber == "0001234567890" && req.IsEligible && req.VerifiedBy == "clerk-1"
	})).Return(&entities.EligibilityCheck{ID: 31, VerificationMethod: entities.VerificationMethodManual}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/eligibility/manual", jsonBody(t, map[string]interface{}{
		"card_number": "0001234567890",
		"is_eligible": true,
		"reason":      "confirmed by insurer hotline",
		"verified_by": "clerk-1",
	}))
	w := httptest.NewRecorder()

	handler.RecordManualVerification(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "manual", decode(t, w)["verification_method"])
	overrides.AssertExpectations(t)
}

func TestEligibilityHandler_GetStats(t *testing.T) {
	t.Run("global stats with default window", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("GetStats", mock.Anything, (*string)(nil), services.DefaultStatsWindow).
			Return(&entities.EligibilityStats{Total: 4, EligibleCount: 3, WindowDays: 30}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/eligibility/stats", nil)
		w := httptest.NewRecorder()

		handler.GetStats(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(4), decode(t, w)["total"])
	})

	t.Run("per patient stats", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("GetStats", mock.Anything, mock.MatchedBy(func(p *string) bool {
			return p != nil && *p == "patient-1"
		}), 7).Return(&entities.EligibilityStats{WindowDays: 7}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/eligibility/stats?patient_id=patient-1&days=7", nil)
		w := httptest.NewRecorder()

		handler.GetStats(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		eligibility.AssertExpectations(t)
	})

	t.Run("out of range window", func(t *testing.T) {
		handler, eligibility, _ := newHandler()

		eligibility.On("GetStats", mock.Anything, mock.Anything, 400).
			Return(nil, apperrors.NewValidationError("window must be between 1 and 365 days"))

		req := httptest.NewRequest(http.MethodGet, "/api/eligibility/stats?days=400", nil)
		w := httptest.NewRecorder()

		handler.GetStats(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEligibilityHandler_Cache(t *testing.T) {
	t.Run("invalidate", func(t *testing.T) {
		handler, eligibility, _ := newHandler()
		eligibility.On("InvalidateCache", mock.Anything, "0001234567890").Return(nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/eligibility/cache/0001234567890", nil)
		req.SetPathValue("searchKey", "0001234567890")
		w := httptest.NewRecorder()

		handler.InvalidateCache(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		eligibility.AssertExpectations(t)
	})

	t.Run("invalidate with redis down", func(t *testing.T) {
		handler, eligibility, _ := newHandler()
		eligibility.On("InvalidateCache", mock.Anything, "0001234567890").
			Return(apperrors.NewExternalError("failed to invalidate eligibility cache", errors.New("dial tcp: connection refused")))

		req := httptest.NewRequest(http.MethodDelete, "/api/eligibility/cache/0001234567890", nil)
		req.SetPathValue("searchKey", "0001234567890")
		w := httptest.NewRecorder()

		handler.InvalidateCache(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotContains(t, w.Body.String(), "dial tcp")
	})

	t.Run("stats", func(t *testing.T) {
		handler, eligibility, _ := newHandler()
		eligibility.On("GetCacheStats").Return(entities.CacheStats{HitCount: 3, MissCount: 1, HitRate: 0.75})

		req := httptest.NewRequest(http.MethodGet, "/api/eligibility/cache/stats", nil)
		w := httptest.NewRecorder()

		handler.GetCacheStats(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"hit_count":3,"miss_count":1,"hit_rate":0.75}`, w.Body.String())
	})
}
