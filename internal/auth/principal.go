// README: Authenticated principal model and role-based identity resolution.
package auth

import (
	"errors"
	"fmt"

	"medilink/internal/types"
)

// Role is the closed set of actor kinds known to the order engine.
type Role string

const (
	RolePatient Role = "patient"
	RolePartner Role = "partner_organization"
	RoleRider   Role = "delivery_rider"
	RoleAdmin   Role = "administrator"
)

// ErrUnknownRole is a fatal authorization error; requests carrying an
// unrecognized role tag are never retried.
var ErrUnknownRole = errors.New("unresolvable identity: unknown role")

// ParseRole maps a role tag from the auth collaborator to a Role.
func ParseRole(tag string) (Role, error) {
	switch Role(tag) {
	case RolePatient, RolePartner, RoleRider, RoleAdmin:
		return Role(tag), nil
	default:
		return "", ErrUnknownRole
	}
}

// Principal is the authenticated caller: the role-specific numeric identity
// plus the role tag supplied by the auth collaborator.
type Principal struct {
	UserID types.ID
	Role   Role
}

// Channel returns the stable per-user channel key used for real-time
// delivery. Keys are role-qualified so numeric IDs from different role
// namespaces cannot collide.
func (p Principal) Channel() string {
	return ChannelFor(p.Role, p.UserID)
}

// ChannelFor builds the channel key for an arbitrary party.
func ChannelFor(role Role, id types.ID) string {
	return fmt.Sprintf("%s:%d", role, id)
}
