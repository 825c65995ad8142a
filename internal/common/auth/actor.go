// Package auth holds the caller identity passed into every core operation.
// Session retrieval itself belongs to the transport layer; it only has to
// produce an Actor.
package auth

import (
	"context"
	"fmt"
	"strings"

	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/models"
)

// Actor is the resolved identity of the caller.
type Actor struct {
	UserID string
	Role   models.Role
}

// SessionProvider resolves the acting identity for a request. Transports own
// the mechanism; job workers read it from process variables.
type SessionProvider interface {
	GetSession(ctx context.Context) (Actor, bool)
}

// System is the actor used by scheduled jobs.
var System = Actor{UserID: models.SystemActor, Role: models.RoleAdmin}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

func (a Actor) String() string {
	return fmt.Sprintf("%s(%s)", a.UserID, a.Role)
}

// Require fails with Unauthorized when no identity is present and with
// Forbidden when the actor's role is not among roles.
func Require(a Actor, roles ...models.Role) error {
	if strings.TrimSpace(a.UserID) == "" || a.Role == "" {
		return apperr.NewUnauthorizedError()
	}
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return apperr.NewForbiddenError(apperr.ErrCodeRoleDenied,
		fmt.Sprintf("role %s is not one of [%s]", a.Role, strings.Join(allowed, ", ")))
}
