package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
)

// StaticPermissionChecker grants permissions from a fixed actor table loaded
// at startup. Unknown actors and permissions are denied.
type StaticPermissionChecker struct {
	grants map[string]map[string]struct{}
}

// NewStaticPermissionChecker builds a checker from permission -> actor ids
func NewStaticPermissionChecker(grants map[string][]string) providers.PermissionChecker {
	table := make(map[string]map[string]struct{}, len(grants))
	for permission, actors := range grants {
		set := make(map[string]struct{}, len(actors))
		for _, actor := range actors {
			if actor = strings.TrimSpace(actor); actor != "" {
				set[actor] = struct{}{}
			}
		}
		table[permission] = set
	}
	return &StaticPermissionChecker{grants: table}
}

// Authorize reports whether actorID holds permission
func (c *StaticPermissionChecker) Authorize(ctx context.Context, actorID, permission string) (providers.Decision, error) {
	actors, ok := c.grants[permission]
	if !ok || len(actors) == 0 {
		return providers.Decision{Allowed: false, Reason: fmt.Sprintf("no actor is granted %s", permission)}, nil
	}
	if _, ok := actors[actorID]; !ok {
		return providers.Decision{Allowed: false, Reason: fmt.Sprintf("%s is not granted %s", actorID, permission)}, nil
	}
	return providers.Decision{Allowed: true}, nil
}
