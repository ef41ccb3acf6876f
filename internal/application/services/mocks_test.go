package services_test

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/repositories"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/clients/insurerapi"
)

// Mocks

type MockEligibilityCheckRepository struct {
	mock.Mock
}

func (m *MockEligibilityCheckRepository) Record(ctx context.Context, check *entities.EligibilityCheck) (int64, error) {
	args := m.Called(ctx, check)
	id := args.Get(0).(int64)
	if args.Error(1) == nil {
		check.ID = id
	}
	return id, args.Error(1)
}

func (m *MockEligibilityCheckRepository) GetByID(ctx context.Context, id int64) (*entities.EligibilityCheck, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EligibilityCheck), args.Error(1)
}

func (m *MockEligibilityCheckRepository) ListByPatient(ctx context.Context, patientID string, skip, limit int) ([]*entities.EligibilityCheck, int, error) {
	args := m.Called(ctx, patientID, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*entities.EligibilityCheck), args.Int(1), args.Error(2)
}

func (m *MockEligibilityCheckRepository) Stats(ctx context.Context, filter repositories.StatsFilter) (*entities.EligibilityStats, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EligibilityStats), args.Error(1)
}

func (m *MockEligibilityCheckRepository) ApplyOverride(ctx context.Context, override repositories.OverrideUpdate) (*entities.EligibilityCheck, error) {
	args := m.Called(ctx, override)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EligibilityCheck), args.Error(1)
}

type MockInsurerClient struct {
	mock.Mock
}

func (m *MockInsurerClient) CheckEligibilityByCard(ctx context.Context, cardNumber string, asOfDate time.Time) (*insurerapi.RetryResult, error) {
	args := m.Called(ctx, cardNumber, asOfDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*insurerapi.RetryResult), args.Error(1)
}

func (m *MockInsurerClient) CheckEligibilityByNationalID(ctx context.Context, nationalID string, asOfDate time.Time) (*insurerapi.RetryResult, error) {
	args := m.Called(ctx, nationalID, asOfDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*insurerapi.RetryResult), args.Error(1)
}

type MockEligibilityCache struct {
	mock.Mock
}

func (m *MockEligibilityCache) Get(ctx context.Context, key string) (*entities.CachedEligibility, bool) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*entities.CachedEligibility), args.Bool(1)
}

func (m *MockEligibilityCache) Set(ctx context.Context, key string, body json.RawMessage) error {
	args := m.Called(ctx, key, body)
	return args.Error(0)
}

func (m *MockEligibilityCache) Invalidate(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockEligibilityCache) Stats() entities.CacheStats {
	args := m.Called()
	return args.Get(0).(entities.CacheStats)
}

type MockPermissionChecker struct {
	mock.Mock
}

func (m *MockPermissionChecker) Authorize(ctx context.Context, actorID, permission string) (providers.Decision, error) {
	args := m.Called(ctx, actorID, permission)
	return args.Get(0).(providers.Decision), args.Error(1)
}

type MockPatientLookup struct {
	mock.Mock
}

func (m *MockPatientLookup) GetPatient(ctx context.Context, patientID string) (*entities.Patient, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Patient), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, channel string, event *entities.EligibilityEvent) error {
	args := m.Called(ctx, channel, event)
	return args.Error(0)
}
