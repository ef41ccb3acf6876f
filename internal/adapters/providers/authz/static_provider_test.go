package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/insurance-eligibility/backend/internal/adapters/providers/authz"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
)

func TestStaticPermissionChecker_Authorize(t *testing.T) {
	checker := authz.NewStaticPermissionChecker(map[string][]string{
		providers.PermissionOverrideEligibility: {"dr-1", " supervisor-2 "},
		providers.PermissionManualVerification:  {},
	})
	ctx := context.Background()

	tests := []struct {
		name       string
		actor      string
		permission string
		allowed    bool
	}{
		{"granted", "dr-1", providers.PermissionOverrideEligibility, true},
		{"trimmed grant", "supervisor-2", providers.PermissionOverrideEligibility, true},
		{"unknown actor", "nurse-9", providers.PermissionOverrideEligibility, false},
		{"empty grant list", "dr-1", providers.PermissionManualVerification, false},
		{"unknown permission", "dr-1", "eligibility:delete", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := checker.Authorize(ctx, tt.actor, tt.permission)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}
