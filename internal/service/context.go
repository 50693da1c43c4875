package service

import (
	"github.com/google/uuid"
)

// RequestContext identifies who a command runs as and which workspace it
// operates in. Every collaborator call receives one.
type RequestContext struct {
	UserID      uuid.UUID
	WorkspaceID uuid.UUID
}
