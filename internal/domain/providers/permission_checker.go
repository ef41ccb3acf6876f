package providers

import "context"

// Permissions checked by the eligibility workflows
const (
	PermissionOverrideEligibility = "eligibility:override"
	PermissionManualVerification  = "eligibility:manual"
)

// Decision is the answer of the policy engine
type Decision struct {
	Allowed bool
	Reason  string
}

// PermissionChecker is the authorization contract for privileged actions
type PermissionChecker interface {
	Authorize(ctx context.Context, actorID, permission string) (Decision, error)
}
