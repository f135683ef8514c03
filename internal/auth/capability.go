// Package auth defines the capability-check boundary: the Checker contract,
// the errors it can surface, and a static token-table implementation for
// deployments without an external permission service.
package auth

import (
	"context"
	"errors"
)

type Capability string

const (
	CapabilityRead   Capability = "telemetry:read"
	CapabilityWrite  Capability = "telemetry:write"
	CapabilityManage Capability = "alerts:manage"
)

var (
	// ErrUnauthorized means the bearer credential is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDenied means the credential is valid but lacks the capability.
	ErrDenied = errors.New("capability denied")
)

// Checker validates a bearer credential and checks it for a capability,
// scoped to a project when projectID is non-empty.
type Checker interface {
	Check(ctx context.Context, token string, capability Capability, projectID string) error
}
