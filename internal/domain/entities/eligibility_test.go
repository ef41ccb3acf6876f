package entities_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
)

func strPtr(s string) *string { return &s }

func TestEligibilityCheck_IsAuthoritative(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		check entities.EligibilityCheck
		want  bool
	}{
		{
			name:  "clean api answer",
			check: entities.EligibilityCheck{VerificationMethod: entities.VerificationMethodAPI, IsEligible: true},
			want:  true,
		},
		{
			name:  "definitive not eligible",
			check: entities.EligibilityCheck{VerificationMethod: entities.VerificationMethodAPI, IsEligible: false},
			want:  true,
		},
		{
			name: "api failure",
			check: entities.EligibilityCheck{
				VerificationMethod: entities.VerificationMethodAPI,
				APIError:           strPtr("timeout"),
			},
			want: false,
		},
		{
			name: "override",
			check: entities.EligibilityCheck{
				VerificationMethod: entities.VerificationMethodOverride,
				APIError:           strPtr("timeout"),
				IsManualOverride:   true,
				OverrideApprovedBy: strPtr("dr-1"),
				OverrideApprovedAt: &now,
			},
			want: true,
		},
		{
			name: "override missing approver",
			check: entities.EligibilityCheck{
				VerificationMethod: entities.VerificationMethodOverride,
				IsManualOverride:   true,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check.IsAuthoritative())
		})
	}
}

func TestEligibilityCheck_EffectivelyEligible(t *testing.T) {
	failed := entities.EligibilityCheck{IsEligible: false, APIError: strPtr("timeout")}
	assert.False(t, failed.EffectivelyEligible())

	failed.IsManualOverride = true
	assert.True(t, failed.EffectivelyEligible())
	assert.False(t, failed.IsEligible, "override never rewrites the machine answer")
}
