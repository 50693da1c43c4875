package auth

import (
	"github.com/google/uuid"
)

// Principal is the authenticated identity attached to a connection: the
// user plus the workspace the connection operates in, when one is selected.
type Principal struct {
	UserID      uuid.UUID
	Username    string
	WorkspaceID *uuid.UUID
	Roles       []string
}

// HasWorkspace reports whether the principal has a resolved workspace context.
func (p *Principal) HasWorkspace() bool {
	return p != nil && p.WorkspaceID != nil
}

// HasRole checks if the principal has the given role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
