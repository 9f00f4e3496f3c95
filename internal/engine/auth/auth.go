package auth

import (
	"errors"
	"fmt"

	"taskboard/internal/domain"
)

// ErrUnauthorized means no credential was presented or it did not resolve.
var ErrUnauthorized = errors.New("authentication required")

// ForbiddenError indicates a resolved identity lacks a capability.
type ForbiddenError struct {
	Capability Capability
	Reason     string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("permission %s required", e.Capability)
}

type Capability string

const (
	CapRead  Capability = "read"
	CapWrite Capability = "write"
	// CapManage covers credential management and billing; only browser
	// sessions hold it.
	CapManage Capability = "manage"
)

type Source string

const (
	SourceAPIKey  Source = "api_key"
	SourceSession Source = "session"
)

// Identity is the outcome of authenticating a request.
type Identity struct {
	UserID      string
	Actor       string
	Permissions domain.Permissions
	Source      Source
	KeyID       string
}

// Can reports whether the identity holds capability c.
func (id Identity) Can(c Capability) bool {
	switch c {
	case CapRead:
		return id.Source == SourceSession || id.Permissions.Read || id.Permissions.Write
	case CapWrite:
		return id.Source == SourceSession || id.Permissions.Write
	case CapManage:
		return id.Source == SourceSession
	default:
		return false
	}
}

// RequireCapability is the single permission check used by every operation.
func RequireCapability(id Identity, c Capability) error {
	if id.UserID == "" {
		return ErrUnauthorized
	}
	if !id.Can(c) {
		if c == CapManage {
			return ForbiddenError{Capability: c, Reason: "browser session required"}
		}
		return ForbiddenError{Capability: c}
	}
	return nil
}

// RequireSession guards credential management and billing.
func RequireSession(id Identity) error {
	return RequireCapability(id, CapManage)
}
