// Package auth holds the identity provider contract, its JWT implementation
// and the role capability table. Authorization failures are produced only at
// the transport boundary; the core state machines never see them.
package auth

import (
	"context"

	"chargehub/internal/models"
)

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Role   models.Role
}

// Provider authenticates a bearer credential.
type Provider interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}
