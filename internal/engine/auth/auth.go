// Package auth maps the closed set of engine actions to the roles allowed
// to perform them. Role checks happen at the boundary, not inside business
// logic.
package auth

import (
	"fmt"

	"luvia/internal/domain"
)

// ForbiddenError indicates the actor's role may not perform the action.
type ForbiddenError struct {
	Action Action
	Role   domain.Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not perform %s", e.Role, e.Action)
}

// Action identifies one inbound operation of the engine.
type Action string

const (
	ActionBookJob       Action = "job.book"
	ActionMarkTravel    Action = "job.travel"
	ActionInjectSOP     Action = "job.inject_sop"
	ActionMutateTask    Action = "job.mutate_task"
	ActionSubmitReview  Action = "job.submit_review"
	ActionReleaseEscrow Action = "job.release_escrow"
	ActionSetFactor     Action = "pricing.set_factor"
	ActionCheckout      Action = "market.checkout"
)

var allowedRoles = map[Action][]domain.Role{
	ActionBookJob:       {domain.RoleClient},
	ActionMarkTravel:    {domain.RoleHandyperson, domain.RoleCleaner},
	ActionInjectSOP:     {domain.RoleAdmin},
	ActionMutateTask:    {domain.RoleHandyperson, domain.RoleCleaner},
	ActionSubmitReview:  {domain.RoleHandyperson, domain.RoleCleaner},
	ActionReleaseEscrow: {domain.RoleClient},
	ActionSetFactor:     {domain.RoleAdmin},
	ActionCheckout:      {domain.RoleClient},
}

// Authorize checks a role against the action's allow list. Admins pass
// every check so ops tooling can drive the full lifecycle.
func Authorize(role domain.Role, action Action) error {
	if role == domain.RoleAdmin {
		return nil
	}
	roles, ok := allowedRoles[action]
	if !ok {
		return ForbiddenError{Action: action, Role: role}
	}
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return ForbiddenError{Action: action, Role: role}
}
